package status

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/duetchat/duet/internal/errs"
	"github.com/duetchat/duet/internal/protocol"
	"github.com/duetchat/duet/internal/store"
)

// fakeStore tracks per-recipient statuses and applies the monotonic advance
// rule the real store enforces in SQL.
type fakeStore struct {
	chat     *store.Chat
	statuses map[string]map[string]int // messageID -> recipient -> status
}

func (f *fakeStore) GetChat(_ context.Context, chatID string) (*store.Chat, error) {
	if f.chat == nil || f.chat.ID != chatID {
		return nil, fmt.Errorf("%w: get chat", errs.ErrNotFound)
	}
	return f.chat, nil
}

func (f *fakeStore) AdvanceStatus(_ context.Context, messageIDs []string, recipientID string, status int) ([]string, error) {
	advanced := []string{}
	for _, id := range messageIDs {
		recips, ok := f.statuses[id]
		if !ok {
			continue
		}
		current, ok := recips[recipientID]
		if !ok || current >= status {
			continue
		}
		recips[recipientID] = status
		advanced = append(advanced, id)
	}
	return advanced, nil
}

type fakeNotifier struct {
	events []struct {
		userID  string
		msgType string
		payload interface{}
	}
}

func (n *fakeNotifier) SendToUser(userID, msgType string, payload interface{}) {
	n.events = append(n.events, struct {
		userID  string
		msgType string
		payload interface{}
	}{userID, msgType, payload})
}

func newTestTracker() (*Tracker, *fakeStore, *fakeNotifier) {
	fs := &fakeStore{
		chat: &store.Chat{ID: "c1", UserA: "alice", UserB: "bob"},
		statuses: map[string]map[string]int{
			// alice sent m1..m3; bob is the recipient.
			"m1": {"bob": store.DeliverySent},
			"m2": {"bob": store.DeliverySent},
			"m3": {"bob": store.DeliveryDelivered},
		},
	}
	n := &fakeNotifier{}
	return NewTracker(fs, n), fs, n
}

func TestAdvanceToDelivered(t *testing.T) {
	tr, fs, n := newTestTracker()

	err := tr.Advance(context.Background(), "bob", "c1", []string{"m1", "m2"}, protocol.StatusDelivered)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	if fs.statuses["m1"]["bob"] != store.DeliveryDelivered {
		t.Errorf("m1: expected delivered, got %d", fs.statuses["m1"]["bob"])
	}

	// The echo goes to the sender (the chat partner).
	if len(n.events) != 1 {
		t.Fatalf("expected 1 echo, got %d", len(n.events))
	}
	ev := n.events[0]
	if ev.userID != "alice" || ev.msgType != protocol.TypeStatusUpdated {
		t.Errorf("unexpected echo: %+v", ev)
	}
	payload := ev.payload.(protocol.StatusUpdatedMsg)
	if len(payload.MessageIDs) != 2 {
		t.Fatalf("expected 2 advanced ids, got %v", payload.MessageIDs)
	}
	if payload.Status != protocol.StatusDelivered {
		t.Errorf("expected status delivered, got %q", payload.Status)
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	tr, fs, n := newTestTracker()

	if err := tr.Advance(context.Background(), "bob", "c1", []string{"m1"}, protocol.StatusSeen); err != nil {
		t.Fatalf("advance to seen failed: %v", err)
	}
	if fs.statuses["m1"]["bob"] != store.DeliverySeen {
		t.Fatalf("expected seen, got %d", fs.statuses["m1"]["bob"])
	}

	// Marking delivered after seen must not rewind, and must not echo.
	before := len(n.events)
	if err := tr.Advance(context.Background(), "bob", "c1", []string{"m1"}, protocol.StatusDelivered); err != nil {
		t.Fatalf("stale advance errored: %v", err)
	}
	if fs.statuses["m1"]["bob"] != store.DeliverySeen {
		t.Fatalf("status rewound to %d", fs.statuses["m1"]["bob"])
	}
	if len(n.events) != before {
		t.Fatal("stale advance must not echo")
	}
}

func TestAdvanceEchoesOnlyAdvancedSubset(t *testing.T) {
	tr, _, n := newTestTracker()

	// m3 is already delivered; only m1 and m2 advance.
	err := tr.Advance(context.Background(), "bob", "c1", []string{"m1", "m2", "m3"}, protocol.StatusDelivered)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	payload := n.events[0].payload.(protocol.StatusUpdatedMsg)
	if len(payload.MessageIDs) != 2 {
		t.Fatalf("expected 2 advanced ids, got %v", payload.MessageIDs)
	}
	for _, id := range payload.MessageIDs {
		if id == "m3" {
			t.Error("m3 did not advance and must not be echoed")
		}
	}
}

func TestAdvanceSkipsSenderOwnMessages(t *testing.T) {
	tr, fs, n := newTestTracker()

	// alice is the sender; no status row names her as recipient.
	err := tr.Advance(context.Background(), "alice", "c1", []string{"m1", "m2"}, protocol.StatusSeen)
	if err != nil {
		t.Fatalf("advance errored: %v", err)
	}
	if fs.statuses["m1"]["bob"] != store.DeliverySent {
		t.Fatal("bob's status must be untouched")
	}
	if len(n.events) != 0 {
		t.Fatal("nothing advanced, so nothing echoes")
	}
}

func TestAdvanceRejectsInvalidInput(t *testing.T) {
	tr, _, _ := newTestTracker()

	err := tr.Advance(context.Background(), "bob", "c1", nil, protocol.StatusSeen)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty batch: expected validation error, got %v", err)
	}

	err = tr.Advance(context.Background(), "bob", "c1", []string{"m1"}, "read")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unknown status: expected validation error, got %v", err)
	}

	err = tr.Advance(context.Background(), "mallory", "c1", []string{"m1"}, protocol.StatusSeen)
	if !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("non-participant: expected authorization error, got %v", err)
	}

	err = tr.Advance(context.Background(), "bob", "nope", []string{"m1"}, protocol.StatusSeen)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown chat: expected not-found error, got %v", err)
	}
}
