// Package presence derives online/offline state from connection reference
// counts. A user is online while at least one of their connections is open;
// the last disconnect stamps lastSeen and announces the offline transition.
// Broadcasts are scoped to the user's chat partners, never the whole system.
package presence

import (
	"context"
	"log"
	"time"

	"github.com/duetchat/duet/internal/metrics"
	"github.com/duetchat/duet/internal/protocol"
	"github.com/duetchat/duet/internal/registry"
)

// Store is the subset of the persisted store the tracker needs.
type Store interface {
	UpdateLastSeen(ctx context.Context, userID string, t time.Time) error
	PartnerIDs(ctx context.Context, userID string) ([]string, error)
}

// Publisher delivers presence events to all of one user's connections.
type Publisher interface {
	PublishUserEvent(userID string, data []byte) error
}

// Tracker watches the session registry's per-user reference counts and turns
// 0→1 and →0 transitions into partner-scoped status broadcasts.
type Tracker struct {
	counts    *registry.Registry
	store     Store
	publisher Publisher
}

// NewTracker creates a Tracker over the given registry.
func NewTracker(counts *registry.Registry, store Store, publisher Publisher) *Tracker {
	return &Tracker{counts: counts, store: store, publisher: publisher}
}

// HandleConnect is called after a connection registers. On the user's 0→1
// transition it marks them online and notifies their chat partners. The
// bool reports whether a transition happened.
func (t *Tracker) HandleConnect(ctx context.Context, userID string, refCount int) bool {
	if refCount != 1 {
		return false // additional device; user was already online
	}

	metrics.OnlineUsers.Inc()
	t.broadcastStatus(ctx, userID, protocol.UserStatusMsg{
		UserID: userID,
		Online: true,
	})
	return true
}

// HandleDisconnect is called after a connection deregisters. When the user's
// final connection closed it stamps lastSeen, marks them offline, and
// notifies their chat partners.
func (t *Tracker) HandleDisconnect(ctx context.Context, userID string, refCount int) bool {
	if refCount != 0 {
		return false // other devices still connected; user stays online
	}

	now := time.Now()
	if err := t.store.UpdateLastSeen(ctx, userID, now); err != nil {
		// The transition still broadcasts: presence must not stick online
		// because a lastSeen write failed.
		log.Printf("presence: last seen for user=%s: %v", userID, err)
	}

	metrics.OnlineUsers.Dec()
	t.broadcastStatus(ctx, userID, protocol.UserStatusMsg{
		UserID:   userID,
		Online:   false,
		LastSeen: now.Unix(),
	})
	return true
}

// Snapshot returns the subset of the given partner IDs that currently have
// at least one open connection on this instance.
func (t *Tracker) Snapshot(partnerIDs []string) []string {
	online := []string{}
	for _, id := range partnerIDs {
		if t.counts.RefCount(id) > 0 {
			online = append(online, id)
		}
	}
	return online
}

// broadcastStatus sends the status change to every connection of every chat
// partner. Publish failures are logged per partner and do not abort the rest
// of the fan-out.
func (t *Tracker) broadcastStatus(ctx context.Context, userID string, msg protocol.UserStatusMsg) {
	partners, err := t.store.PartnerIDs(ctx, userID)
	if err != nil {
		log.Printf("presence: partner ids for user=%s: %v", userID, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeUserStatus, msg)
	if err != nil {
		log.Printf("presence: build user_status for user=%s: %v", userID, err)
		return
	}

	for _, partner := range partners {
		if err := t.publisher.PublishUserEvent(partner, data); err != nil {
			log.Printf("presence: publish user_status to user=%s: %v", partner, err)
		}
	}
}
