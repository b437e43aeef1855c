package store

import "time"

// Message lifecycle states. DeletedForMe is a per-viewer overlay stored in
// message_hidden, not a canonical state.
const (
	StateActive  = "active"
	StateEdited  = "edited"
	StateDeleted = "deleted"
)

// Per-recipient delivery statuses. The numeric order is the monotonic order:
// a status never moves to a lower value.
const (
	DeliverySent      = 0
	DeliveryDelivered = 1
	DeliverySeen      = 2
)

// Tombstone replaces the content of a message deleted for everyone.
const Tombstone = "This message was deleted"

// User is a chat participant. Presence is derived at runtime and not stored;
// LastSeen is stamped when the user's final connection closes.
type User struct {
	ID       string
	Username string
	LastSeen time.Time
}

// Chat is a dyadic channel between exactly two users. LastMessageID is
// denormalized for fast chat listing.
type Chat struct {
	ID            string
	UserA         string
	UserB         string
	LastMessageID string
	CreatedAt     time.Time
}

// Partner returns the other participant's user ID, or "" if userID is not a
// participant.
func (c *Chat) Partner(userID string) string {
	if userID == c.UserA {
		return c.UserB
	}
	if userID == c.UserB {
		return c.UserA
	}
	return ""
}

// IsParticipant reports whether userID is one of the chat's two participants.
func (c *Chat) IsParticipant(userID string) bool {
	return userID == c.UserA || userID == c.UserB
}

// Message is one entry in a chat's append-only log. Messages are never
// physically removed: delete-for-everyone flips State and replaces Content
// with the tombstone.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	ParentID  string
	State     string
	Pinned    bool
	EditedAt  time.Time
	CreatedAt time.Time
}

// Deleted reports whether the message was deleted for everyone.
func (m *Message) Deleted() bool {
	return m.State == StateDeleted
}

// ReactionGroup is one emoji with every user currently reacting with it.
type ReactionGroup struct {
	Emoji   string
	UserIDs []string
}

// PinRecord marks one pinned message. A message appears at most once among a
// chat's pin records.
type PinRecord struct {
	ChatID    string
	MessageID string
	PinnedBy  string
	PinnedAt  time.Time
}
