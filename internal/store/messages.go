package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// AppendMessage atomically appends a message to its chat's log, creates the
// recipient's delivery-status row at Sent, and advances the chat's
// last-message pointer. The transaction commit fixes this message's position
// in the chat's creation order.
func (s *Store) AppendMessage(ctx context.Context, msg *Message, recipientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryErr("append message", err)
	}
	defer tx.Rollback()

	var parent interface{}
	if msg.ParentID != "" {
		parent = msg.ParentID
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, parent_id, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, parent, StateActive,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return wrapQueryErr("append message", err)
	}
	msg.State = StateActive

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_status (message_id, recipient_id, status)
		VALUES ($1, $2, $3)`,
		msg.ID, recipientID, DeliverySent,
	); err != nil {
		return wrapQueryErr("append message status", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET last_message_id = $1 WHERE id = $2`,
		msg.ID, msg.ChatID,
	); err != nil {
		return wrapQueryErr("append message chat pointer", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapQueryErr("append message commit", err)
	}
	return nil
}

// GetMessage loads a single message by ID.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	var (
		m        Message
		parent   sql.NullString
		editedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, content, parent_id, state, pinned, edited_at, created_at
		FROM messages WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &parent, &m.State, &m.Pinned, &editedAt, &m.CreatedAt)
	if err != nil {
		return nil, wrapQueryErr("get message", err)
	}
	m.ParentID = parent.String
	m.EditedAt = editedAt.Time
	return &m, nil
}

// UpdateContent replaces a message's content and marks it edited.
func (s *Store) UpdateContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = $1, state = $2, edited_at = $3
		WHERE id = $4 AND state <> $5`,
		content, StateEdited, editedAt, messageID, StateDeleted)
	if err != nil {
		return wrapQueryErr("update content", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapQueryErr("update content", sql.ErrNoRows)
	}
	return nil
}

// MarkDeleted tombstones a message for everyone: content is replaced, the
// state flips to deleted, and any pin record is dropped. The row itself is
// never removed.
func (s *Store) MarkDeleted(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryErr("mark deleted", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET content = $1, state = $2, pinned = FALSE
		WHERE id = $3`,
		Tombstone, StateDeleted, messageID)
	if err != nil {
		return wrapQueryErr("mark deleted", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapQueryErr("mark deleted", sql.ErrNoRows)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pins WHERE message_id = $1`, messageID); err != nil {
		return wrapQueryErr("mark deleted unpin", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapQueryErr("mark deleted commit", err)
	}
	return nil
}

// HideForViewer records the delete-for-me overlay for one viewer. Hiding an
// already-hidden message is a no-op.
func (s *Store) HideForViewer(ctx context.Context, messageID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_hidden (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID)
	if err != nil {
		return wrapQueryErr("hide for viewer", err)
	}
	return nil
}

// ToggleReaction applies a user's reaction toggle on a message and returns
// whether a reaction is present afterwards. The row is scoped to
// (message, user), so concurrent toggles by the two participants cannot
// clobber each other:
//
//	no existing row            -> insert (added)
//	existing row, same emoji   -> delete (removed)
//	existing row, other emoji  -> update (replaced)
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapQueryErr("toggle reaction", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT emoji FROM reactions
		WHERE message_id = $1 AND user_id = $2
		FOR UPDATE`,
		messageID, userID,
	).Scan(&current)

	var added bool
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reactions (message_id, user_id, emoji)
			VALUES ($1, $2, $3)`,
			messageID, userID, emoji)
		added = true
	case err != nil:
		return false, wrapQueryErr("toggle reaction select", err)
	case current == emoji:
		_, err = tx.ExecContext(ctx, `
			DELETE FROM reactions WHERE message_id = $1 AND user_id = $2`,
			messageID, userID)
		added = false
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE reactions SET emoji = $1, created_at = NOW()
			WHERE message_id = $2 AND user_id = $3`,
			emoji, messageID, userID)
		added = true
	}
	if err != nil {
		return false, wrapQueryErr("toggle reaction apply", err)
	}

	if err := tx.Commit(); err != nil {
		return false, wrapQueryErr("toggle reaction commit", err)
	}
	return added, nil
}

// Reactions returns a message's reactions grouped by emoji, oldest emoji
// first.
func (s *Store) Reactions(ctx context.Context, messageID string) ([]ReactionGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT emoji, ARRAY_AGG(user_id ORDER BY created_at)
		FROM reactions
		WHERE message_id = $1
		GROUP BY emoji
		ORDER BY MIN(created_at)`,
		messageID)
	if err != nil {
		return nil, wrapQueryErr("get reactions", err)
	}
	defer rows.Close()

	groups := []ReactionGroup{}
	for rows.Next() {
		var g ReactionGroup
		if err := rows.Scan(&g.Emoji, pq.Array(&g.UserIDs)); err != nil {
			return nil, wrapQueryErr("scan reactions", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("get reactions", err)
	}
	return groups, nil
}

// Pin records a pin for a message. Pinning an already-pinned message is a
// no-op; the bool reports whether a new pin record was created.
func (s *Store) Pin(ctx context.Context, chatID, messageID, pinnedBy string) (bool, *PinRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, wrapQueryErr("pin", err)
	}
	defer tx.Rollback()

	rec := &PinRecord{ChatID: chatID, MessageID: messageID, PinnedBy: pinnedBy}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pins (chat_id, message_id, pinned_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING`,
		chatID, messageID, pinnedBy)
	if err != nil {
		return false, nil, wrapQueryErr("pin insert", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		// Already pinned; leave the existing record untouched.
		return false, nil, nil
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT pinned_at FROM pins WHERE message_id = $1`,
		messageID,
	).Scan(&rec.PinnedAt); err != nil {
		return false, nil, wrapQueryErr("pin read back", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET pinned = TRUE WHERE id = $1`, messageID); err != nil {
		return false, nil, wrapQueryErr("pin flag", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, wrapQueryErr("pin commit", err)
	}
	return true, rec, nil
}

// Unpin removes a message's pin record. Unpinning a non-pinned message is a
// no-op; the bool reports whether a record was removed.
func (s *Store) Unpin(ctx context.Context, messageID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapQueryErr("unpin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM pins WHERE message_id = $1`, messageID)
	if err != nil {
		return false, wrapQueryErr("unpin delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET pinned = FALSE WHERE id = $1`, messageID); err != nil {
		return false, wrapQueryErr("unpin flag", err)
	}

	if err := tx.Commit(); err != nil {
		return false, wrapQueryErr("unpin commit", err)
	}
	return true, nil
}

// AdvanceStatus moves the delivery status of the given messages forward for
// one recipient. Rows already at or past the target status are untouched,
// which makes the batch idempotent and the per-message status monotonic.
// It returns the IDs that actually advanced.
func (s *Store) AdvanceStatus(ctx context.Context, messageIDs []string, recipientID string, status int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE message_status
		SET status = $1, updated_at = NOW()
		WHERE message_id = ANY($2)
		  AND recipient_id = $3
		  AND status < $1
		RETURNING message_id`,
		status, pq.Array(messageIDs), recipientID)
	if err != nil {
		return nil, wrapQueryErr("advance status", err)
	}
	defer rows.Close()

	updated := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapQueryErr("scan status", err)
		}
		updated = append(updated, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("advance status", err)
	}
	return updated, nil
}
