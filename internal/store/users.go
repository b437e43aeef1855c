package store

import (
	"context"
	"database/sql"
	"time"
)

// GetUser loads a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var (
		u        User
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, last_seen FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Username, &lastSeen)
	if err != nil {
		return nil, wrapQueryErr("get user", err)
	}
	u.LastSeen = lastSeen.Time
	return &u, nil
}

// UpdateLastSeen stamps the user's last-seen timestamp. Called on the
// offline transition only.
func (s *Store) UpdateLastSeen(ctx context.Context, userID string, t time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_seen = $1 WHERE id = $2`, t, userID); err != nil {
		return wrapQueryErr("update last seen", err)
	}
	return nil
}

// GetChat loads a chat by ID.
func (s *Store) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var (
		c       Chat
		lastMsg sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_a, user_b, last_message_id, created_at
		FROM chats WHERE id = $1`,
		chatID,
	).Scan(&c.ID, &c.UserA, &c.UserB, &lastMsg, &c.CreatedAt)
	if err != nil {
		return nil, wrapQueryErr("get chat", err)
	}
	c.LastMessageID = lastMsg.String
	return &c, nil
}

// ChatBetween returns the chat shared by the two users, in either participant
// order.
func (s *Store) ChatBetween(ctx context.Context, userA, userB string) (*Chat, error) {
	var (
		c       Chat
		lastMsg sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_a, user_b, last_message_id, created_at
		FROM chats
		WHERE (user_a = $1 AND user_b = $2) OR (user_a = $2 AND user_b = $1)`,
		userA, userB,
	).Scan(&c.ID, &c.UserA, &c.UserB, &lastMsg, &c.CreatedAt)
	if err != nil {
		return nil, wrapQueryErr("chat between", err)
	}
	c.LastMessageID = lastMsg.String
	return &c, nil
}

// PartnerIDs returns the user IDs that share a chat with the given user.
// Presence broadcasts are scoped to this set.
func (s *Store) PartnerIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN user_a = $1 THEN user_b ELSE user_a END
		FROM chats
		WHERE user_a = $1 OR user_b = $1`,
		userID)
	if err != nil {
		return nil, wrapQueryErr("partner ids", err)
	}
	defer rows.Close()

	partners := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapQueryErr("scan partner id", err)
		}
		partners = append(partners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("partner ids", err)
	}
	return partners, nil
}

// InsertBlock records that blocker has blocked blocked. The single row covers
// both directions of the relationship, so the mirrored blocks/blocked-by pair
// is updated in one atomic statement. Blocking an already-blocked user is a
// no-op; the bool reports whether a new block was created.
func (s *Store) InsertBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING`,
		blockerID, blockedID)
	if err != nil {
		return false, wrapQueryErr("insert block", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteBlock removes blocker's block on blocked. The bool reports whether a
// block existed.
func (s *Store) DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`,
		blockerID, blockedID)
	if err != nil {
		return false, wrapQueryErr("delete block", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BlockExists reports whether a block exists between the two users in either
// direction.
func (s *Store) BlockExists(ctx context.Context, userA, userB string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)`,
		userA, userB,
	).Scan(&exists)
	if err != nil {
		return false, wrapQueryErr("block exists", err)
	}
	return exists, nil
}
