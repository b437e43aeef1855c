// Package protocol defines the WebSocket message types and structures used
// for communication between the client and the sync engine. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. The set of client message types is closed: unknown types are
// rejected at parse time, never dispatched.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin         = "join"
	TypeSend         = "send"
	TypeEdit         = "edit"
	TypeDelete       = "delete"
	TypeReact        = "react"
	TypePin          = "pin"
	TypeUnpin        = "unpin"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
	TypeUpdateStatus = "update_status"
	TypeBlock        = "block"
	TypeUnblock      = "unblock"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated  = "session_created"
	TypeJoined          = "joined"
	TypeReceiveMessage  = "receive_message"
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
	TypeReactionUpdated = "reaction_updated"
	TypeMessagePinned   = "message_pinned"
	TypeMessageUnpinned = "message_unpinned"
	TypeStatusUpdated   = "status_updated"
	TypeTyping          = "typing"
	TypeStopTyping      = "stop_typing"
	TypeOnlineUsers     = "online_users"
	TypeUserStatus      = "user_status"
	TypeRateLimited     = "rate_limited"
	TypeError           = "error"
	TypePong            = "pong"
)

// Delete scopes accepted by the delete operation.
const (
	ScopeMe       = "me"
	ScopeEveryone = "everyone"
)

// Delivery status values accepted by update_status.
const (
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg subscribes the connection to a chat's fan-out group. The requester
// must be a participant of the chat.
type JoinMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// SendMsg creates a new message in a chat. ParentID optionally references a
// message in the same chat that this one replies to.
type SendMsg struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	ParentID string `json:"parent_id,omitempty"`
}

// EditMsg replaces the content of a message the requester sent.
type EditMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteMsg deletes a message, either for the requester only ("me") or for
// both participants ("everyone").
type DeleteMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Scope     string `json:"scope"`
}

// ReactMsg toggles the requester's emoji reaction on a message.
type ReactMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// PinMsg pins a message in its chat.
type PinMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// UnpinMsg removes a message from its chat's pin list.
type UnpinMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// TypingStartMsg signals that the requester started (or continues) typing in
// a chat.
type TypingStartMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// TypingStopMsg signals that the requester stopped typing in a chat.
type TypingStopMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// UpdateStatusMsg advances the delivery status of a batch of messages the
// requester received in a chat.
type UpdateStatusMsg struct {
	Type       string   `json:"type"`
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids"`
	Status     string   `json:"status"` // "delivered" | "seen"
}

// BlockMsg blocks another user.
type BlockMsg struct {
	Type         string `json:"type"`
	TargetUserID string `json:"target_user_id"`
}

// UnblockMsg removes a block on another user.
type UnblockMsg struct {
	Type         string `json:"type"`
	TargetUserID string `json:"target_user_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// JoinedMsg confirms a successful chat subscription.
type JoinedMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// MessagePayload is the wire representation of a message carried by
// receive_message and message_edited events.
type MessagePayload struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	ParentID  string `json:"parent_id,omitempty"`
	Edited    bool   `json:"edited,omitempty"`
	EditedAt  int64  `json:"edited_at,omitempty"`
	Pinned    bool   `json:"pinned,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ReceiveMessageMsg carries a newly created message to every session of both
// participants.
type ReceiveMessageMsg struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// MessageEditedMsg carries the new content of an edited message.
type MessageEditedMsg struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// MessageDeletedMsg announces a deletion. Scope "everyone" is broadcast to
// both participants; scope "me" is delivered only to the requester's own
// sessions.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Scope     string `json:"scope"`
}

// ReactionEntry is one emoji with the users who currently react with it.
type ReactionEntry struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// ReactionUpdatedMsg carries the full reaction set of a message after a
// toggle. Receivers apply it as an id-keyed upsert.
type ReactionUpdatedMsg struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id"`
	MessageID string          `json:"message_id"`
	Reactions []ReactionEntry `json:"reactions"`
}

// MessagePinnedMsg announces a new pin record.
type MessagePinnedMsg struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	PinnedBy  string `json:"pinned_by"`
	PinnedAt  int64  `json:"pinned_at"`
}

// MessageUnpinnedMsg announces a removed pin record.
type MessageUnpinnedMsg struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// StatusUpdatedMsg echoes a successful delivery-status advance to every
// session of the messages' sender.
type StatusUpdatedMsg struct {
	Type       string   `json:"type"`
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids"`
	Status     string   `json:"status"`
}

// TypingMsg tells the other participant that a user is typing in a chat.
type TypingMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// StopTypingMsg tells the other participant that a user stopped typing,
// either explicitly or via the debounce expiry.
type StopTypingMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// OnlineUsersMsg is the presence snapshot sent to a session right after it
// connects. It lists the online subset of the user's chat partners.
type OnlineUsersMsg struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"user_ids"`
}

// UserStatusMsg announces an online/offline transition of a chat partner.
// LastSeen is set (unix seconds) only on the offline transition.
type UserStatusMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// RateLimitedMsg is sent when the client exceeded the send rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEdit:
		var m EditMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDelete:
		var m DeleteMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReact:
		var m ReactMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePin:
		var m PinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnpin:
		var m UnpinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart:
		var m TypingStartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStop:
		var m TypingStopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdateStatus:
		var m UpdateStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBlock:
		var m BlockMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnblock:
		var m UnblockMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
