// Package audit provides PostgreSQL-backed storage for block/unblock audit
// records. Each record captures who acted on whom and the last few messages
// the pair exchanged (for moderator review). Writing happens off the
// enforcement critical path: the gate publishes the record to NATS and the
// writer persists it from the subscription.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/duetchat/duet/internal/history"
)

// Actions recorded in the audit log, matching the CHECK constraint on the
// block_audit table.
const (
	ActionBlock   = "block"
	ActionUnblock = "unblock"
)

// Record is a single block/unblock event to be persisted.
type Record struct {
	ActorID  string          `json:"actor_id"`
	TargetID string          `json:"target_id"`
	Action   string          `json:"action"`
	Messages []history.Entry `json:"messages,omitempty"` // recent tail of the pair's chat
	Ts       int64           `json:"ts"`
}

// Store manages audit records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an audit record. The message snapshot is marshalled to
// JSONB; the action is validated against the allowed set before insertion.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec.Action != ActionBlock && rec.Action != ActionUnblock {
		return fmt.Errorf("audit: invalid action %q", rec.Action)
	}

	var messagesJSON []byte
	if len(rec.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(rec.Messages)
		if err != nil {
			return fmt.Errorf("audit: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO block_audit (actor_id, target_id, action, messages)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ActorID,
		rec.TargetID,
		rec.Action,
		messagesJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of block actions recorded against a target
// within the given time window.
func (s *Store) CountRecent(ctx context.Context, targetID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM block_audit
		WHERE target_id = $1
		  AND action = 'block'
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, targetID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// HandleEvent decodes a published audit record and persists it. Failures are
// logged, never propagated: auditing must not interfere with enforcement.
func (s *Store) HandleEvent(data []byte) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("[audit] unmarshal record: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Create(ctx, &rec); err != nil {
		log.Printf("[audit] persist %s %s->%s: %v", rec.Action, rec.ActorID, rec.TargetID, err)
	}
}
