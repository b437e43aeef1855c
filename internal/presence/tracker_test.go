package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/duetchat/duet/internal/protocol"
	"github.com/duetchat/duet/internal/registry"
)

type fakeStore struct {
	partners map[string][]string
	lastSeen map[string]time.Time
}

func (f *fakeStore) UpdateLastSeen(_ context.Context, userID string, t time.Time) error {
	if f.lastSeen == nil {
		f.lastSeen = make(map[string]time.Time)
	}
	f.lastSeen[userID] = t
	return nil
}

func (f *fakeStore) PartnerIDs(_ context.Context, userID string) ([]string, error) {
	return f.partners[userID], nil
}

type fakePublisher struct {
	events []struct {
		userID string
		data   []byte
	}
}

func (p *fakePublisher) PublishUserEvent(userID string, data []byte) error {
	p.events = append(p.events, struct {
		userID string
		data   []byte
	}{userID, data})
	return nil
}

func decodeStatus(t *testing.T, data []byte) protocol.UserStatusMsg {
	t.Helper()
	var msg protocol.UserStatusMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode user_status: %v", err)
	}
	if msg.Type != protocol.TypeUserStatus {
		t.Fatalf("expected type %q, got %q", protocol.TypeUserStatus, msg.Type)
	}
	return msg
}

func newTestTracker() (*Tracker, *registry.Registry, *fakeStore, *fakePublisher) {
	counts := registry.NewRegistry()
	fs := &fakeStore{partners: map[string][]string{
		"alice": {"bob", "carol"},
	}}
	pub := &fakePublisher{}
	return NewTracker(counts, fs, pub), counts, fs, pub
}

func TestConnectBroadcastsOnFirstConnection(t *testing.T) {
	tr, counts, _, pub := newTestTracker()

	ref := counts.Add("alice", "s1")
	if !tr.HandleConnect(context.Background(), "alice", ref) {
		t.Fatal("expected online transition on first connection")
	}

	// One event per chat partner.
	if len(pub.events) != 2 {
		t.Fatalf("expected 2 partner events, got %d", len(pub.events))
	}
	targets := map[string]bool{}
	for _, ev := range pub.events {
		targets[ev.userID] = true
		msg := decodeStatus(t, ev.data)
		if msg.UserID != "alice" || !msg.Online {
			t.Errorf("unexpected status payload: %+v", msg)
		}
		if msg.LastSeen != 0 {
			t.Error("online transition must not carry last_seen")
		}
	}
	if !targets["bob"] || !targets["carol"] {
		t.Errorf("expected bob and carol notified, got %v", targets)
	}
}

func TestSecondDeviceDoesNotRebroadcast(t *testing.T) {
	tr, counts, _, pub := newTestTracker()

	tr.HandleConnect(context.Background(), "alice", counts.Add("alice", "s1"))
	before := len(pub.events)

	if tr.HandleConnect(context.Background(), "alice", counts.Add("alice", "s2")) {
		t.Fatal("second device must not be a transition")
	}
	if len(pub.events) != before {
		t.Fatal("second device must not broadcast")
	}
}

func TestDisconnectBroadcastsOnlyOnFinalConnection(t *testing.T) {
	tr, counts, fs, pub := newTestTracker()

	tr.HandleConnect(context.Background(), "alice", counts.Add("alice", "s1"))
	counts.Add("alice", "s2")
	pub.events = nil

	// First device closes; another is still open.
	if tr.HandleDisconnect(context.Background(), "alice", counts.Remove("alice", "s1")) {
		t.Fatal("user still online, no transition expected")
	}
	if len(pub.events) != 0 {
		t.Fatal("no broadcast while a device remains connected")
	}

	// Final device closes.
	if !tr.HandleDisconnect(context.Background(), "alice", counts.Remove("alice", "s2")) {
		t.Fatal("expected offline transition on final disconnect")
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected 2 partner events, got %d", len(pub.events))
	}

	msg := decodeStatus(t, pub.events[0].data)
	if msg.Online {
		t.Error("expected offline status")
	}
	if msg.LastSeen == 0 {
		t.Error("offline transition must carry last_seen")
	}
	if _, ok := fs.lastSeen["alice"]; !ok {
		t.Error("expected last_seen stamped in the store")
	}
}

func TestSnapshotFiltersByRefCount(t *testing.T) {
	tr, counts, _, _ := newTestTracker()

	counts.Add("bob", "s1")

	online := tr.Snapshot([]string{"bob", "carol"})
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("expected only bob online, got %v", online)
	}

	if got := tr.Snapshot(nil); len(got) != 0 {
		t.Fatalf("empty partner set: expected no users, got %v", got)
	}
}
