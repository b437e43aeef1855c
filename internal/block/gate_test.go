package block

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/duetchat/duet/internal/audit"
	"github.com/duetchat/duet/internal/errs"
	"github.com/duetchat/duet/internal/history"
)

type pair struct{ blocker, blocked string }

type fakeStore struct {
	blocks   map[pair]bool
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocks: make(map[pair]bool)}
}

func (f *fakeStore) InsertBlock(_ context.Context, blockerID, blockedID string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	p := pair{blockerID, blockedID}
	if f.blocks[p] {
		return false, nil
	}
	f.blocks[p] = true
	return true, nil
}

func (f *fakeStore) DeleteBlock(_ context.Context, blockerID, blockedID string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	p := pair{blockerID, blockedID}
	if !f.blocks[p] {
		return false, nil
	}
	delete(f.blocks, p)
	return true, nil
}

func (f *fakeStore) BlockExists(_ context.Context, userA, userB string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	return f.blocks[pair{userA, userB}] || f.blocks[pair{userB, userA}], nil
}

type fakePublisher struct {
	records []audit.Record
}

func (p *fakePublisher) PublishBlockAudit(data []byte) error {
	var rec audit.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	p.records = append(p.records, rec)
	return nil
}

func TestCheckBothDirections(t *testing.T) {
	fs := newFakeStore()
	g := NewGate(fs, nil)
	ctx := context.Background()

	if err := g.Check(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unblocked pair: unexpected error: %v", err)
	}

	if err := g.Block(ctx, "alice", "bob", nil); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	// Both orderings are denied by the single block row.
	if err := g.Check(ctx, "alice", "bob"); !errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
	if err := g.Check(ctx, "bob", "alice"); !errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("mirrored order: expected blocked, got %v", err)
	}
}

func TestCheckDeniesOnStoreFailure(t *testing.T) {
	fs := newFakeStore()
	fs.failWith = fmt.Errorf("%w: connection refused", errs.ErrUnavailable)
	g := NewGate(fs, nil)

	ok, err := g.CanCommunicate(context.Background(), "alice", "bob")
	if err == nil {
		t.Fatal("expected error from failing store")
	}
	if ok {
		t.Fatal("unreadable relationship must deny communication")
	}
}

func TestBlockSelf(t *testing.T) {
	g := NewGate(newFakeStore(), nil)

	err := g.Block(context.Background(), "alice", "alice", nil)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBlockEmitsAuditOnce(t *testing.T) {
	fs := newFakeStore()
	pub := &fakePublisher{}
	g := NewGate(fs, pub)
	ctx := context.Background()

	tail := []history.Entry{
		{MessageID: "m1", SenderID: "bob", Content: "last words", Ts: 100},
	}
	if err := g.Block(ctx, "alice", "bob", tail); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	// Repeat block is a no-op and emits nothing.
	if err := g.Block(ctx, "alice", "bob", tail); err != nil {
		t.Fatalf("repeat block failed: %v", err)
	}

	if len(pub.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(pub.records))
	}
	rec := pub.records[0]
	if rec.Action != audit.ActionBlock || rec.ActorID != "alice" || rec.TargetID != "bob" {
		t.Errorf("unexpected audit record: %+v", rec)
	}
	if len(rec.Messages) != 1 || rec.Messages[0].Content != "last words" {
		t.Errorf("expected conversation tail in record, got %+v", rec.Messages)
	}
}

func TestUnblock(t *testing.T) {
	fs := newFakeStore()
	pub := &fakePublisher{}
	g := NewGate(fs, pub)
	ctx := context.Background()

	// Unblocking a user who was never blocked is a no-op.
	if err := g.Unblock(ctx, "alice", "bob"); err != nil {
		t.Fatalf("no-op unblock failed: %v", err)
	}
	if len(pub.records) != 0 {
		t.Fatal("no-op unblock must not emit audit")
	}

	if err := g.Block(ctx, "alice", "bob", nil); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if err := g.Unblock(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}

	if err := g.Check(ctx, "alice", "bob"); err != nil {
		t.Fatalf("expected communication restored, got %v", err)
	}
	last := pub.records[len(pub.records)-1]
	if last.Action != audit.ActionUnblock {
		t.Errorf("expected unblock audit record, got %+v", last)
	}
}

func TestUnblockOnlyOwnDirection(t *testing.T) {
	fs := newFakeStore()
	g := NewGate(fs, nil)
	ctx := context.Background()

	// Both users block each other; alice unblocking removes only her row.
	if err := g.Block(ctx, "alice", "bob", nil); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if err := g.Block(ctx, "bob", "alice", nil); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if err := g.Unblock(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}

	if err := g.Check(ctx, "alice", "bob"); !errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("bob's block must still deny, got %v", err)
	}
}
