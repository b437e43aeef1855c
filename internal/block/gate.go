// Package block enforces block relationships between chat participants. The
// gate sits in front of every message send: if either user has blocked the
// other, the send is rejected before any store mutation or fan-out.
package block

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/duetchat/duet/internal/audit"
	"github.com/duetchat/duet/internal/errs"
	"github.com/duetchat/duet/internal/history"
)

// Store is the subset of the persisted store the gate needs. A single block
// row covers both the blocker's blocks set and the target's blocked-by set,
// so insert and delete keep the mirrored pair consistent atomically.
type Store interface {
	InsertBlock(ctx context.Context, blockerID, blockedID string) (bool, error)
	DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error)
	BlockExists(ctx context.Context, userA, userB string) (bool, error)
}

// AuditPublisher publishes audit records for asynchronous persistence.
type AuditPublisher interface {
	PublishBlockAudit(data []byte) error
}

// Gate validates block relationships and applies block/unblock operations.
type Gate struct {
	store     Store
	publisher AuditPublisher
}

// NewGate creates a Gate over the given store. publisher may be nil, in
// which case audit records are dropped (used in tests).
func NewGate(store Store, publisher AuditPublisher) *Gate {
	return &Gate{store: store, publisher: publisher}
}

// CanCommunicate reports whether two users may exchange messages. Any block
// in either direction denies communication. Store failures also deny:
// when the relationship cannot be read the safe answer is "blocked".
func (g *Gate) CanCommunicate(ctx context.Context, userA, userB string) (bool, error) {
	exists, err := g.store.BlockExists(ctx, userA, userB)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Check rejects with ErrBlocked unless the two users may communicate.
func (g *Gate) Check(ctx context.Context, userA, userB string) error {
	ok, err := g.CanCommunicate(ctx, userA, userB)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: communication between %s and %s", errs.ErrBlocked, userA, userB)
	}
	return nil
}

// Block inserts actor's block on target as one atomic operation and emits an
// audit record carrying the recent tail of the pair's conversation. Blocking
// an already-blocked user is a no-op and emits nothing.
func (g *Gate) Block(ctx context.Context, actorID, targetID string, tail []history.Entry) error {
	if actorID == targetID {
		return fmt.Errorf("%w: cannot block yourself", errs.ErrValidation)
	}

	created, err := g.store.InsertBlock(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if created {
		g.publishAudit(actorID, targetID, audit.ActionBlock, tail)
	}
	return nil
}

// Unblock removes actor's block on target. Unblocking a user who was not
// blocked is a no-op.
func (g *Gate) Unblock(ctx context.Context, actorID, targetID string) error {
	removed, err := g.store.DeleteBlock(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if removed {
		g.publishAudit(actorID, targetID, audit.ActionUnblock, nil)
	}
	return nil
}

// publishAudit emits the audit record off the critical path. Publish
// failures are logged and swallowed: enforcement already happened.
func (g *Gate) publishAudit(actorID, targetID, action string, tail []history.Entry) {
	if g.publisher == nil {
		return
	}

	data, err := json.Marshal(audit.Record{
		ActorID:  actorID,
		TargetID: targetID,
		Action:   action,
		Messages: tail,
		Ts:       time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[block] marshal audit record: %v", err)
		return
	}
	if err := g.publisher.PublishBlockAudit(data); err != nil {
		log.Printf("[block] publish audit record: %v", err)
	}
}
