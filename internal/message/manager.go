// Package message applies the message lifecycle state machine: create, edit,
// delete (for me / for everyone), reaction toggles, and pin state. Every
// mutating operation validates membership and ownership first, applies the
// store update, and only then asks the router to fan out the result, so a
// failed validation never leaves partial state behind.
package message

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duetchat/duet/internal/errs"
	"github.com/duetchat/duet/internal/protocol"
	"github.com/duetchat/duet/internal/store"
)

// EditWindow is how long after creation the sender may edit a message or
// delete it for everyone. The boundary is inclusive: an edit at exactly
// EditWindow is still accepted.
const EditWindow = 15 * time.Minute

// Store is the subset of the persisted store the manager needs.
type Store interface {
	GetChat(ctx context.Context, chatID string) (*store.Chat, error)
	GetMessage(ctx context.Context, messageID string) (*store.Message, error)
	AppendMessage(ctx context.Context, msg *store.Message, recipientID string) error
	UpdateContent(ctx context.Context, messageID, content string, editedAt time.Time) error
	MarkDeleted(ctx context.Context, messageID string) error
	HideForViewer(ctx context.Context, messageID, userID string) error
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	Reactions(ctx context.Context, messageID string) ([]store.ReactionGroup, error)
	Pin(ctx context.Context, chatID, messageID, pinnedBy string) (bool, *store.PinRecord, error)
	Unpin(ctx context.Context, messageID string) (bool, error)
}

// Gate rejects sends between users with a block relationship.
type Gate interface {
	Check(ctx context.Context, userA, userB string) error
}

// Broadcaster fans events out to chat participants or to one user's
// connections. Implemented by the chat channel router.
type Broadcaster interface {
	BroadcastChat(chatID, msgType string, payload interface{})
	SendToUser(userID, msgType string, payload interface{})
}

// Manager validates and applies message lifecycle operations.
type Manager struct {
	store Store
	gate  Gate
	bcast Broadcaster
	now   func() time.Time
}

// NewManager creates a Manager.
func NewManager(s Store, gate Gate, bcast Broadcaster) *Manager {
	return &Manager{store: s, gate: gate, bcast: bcast, now: time.Now}
}

// Send creates a message in a chat. The sender must be a participant, the
// block gate must pass, and a reply parent must live in the same chat. The
// recipient's delivery status starts at Sent as part of the same atomic
// append that fixes the message's position in the chat order.
func (m *Manager) Send(ctx context.Context, senderID, chatID, content, parentID string) (*store.Message, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(senderID) {
		return nil, fmt.Errorf("%w: user %s is not a participant of chat %s", errs.ErrAuthorization, senderID, chatID)
	}

	if err := m.gate.Check(ctx, chat.UserA, chat.UserB); err != nil {
		return nil, err
	}

	if parentID != "" {
		parent, err := m.store.GetMessage(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.ChatID != chatID {
			return nil, fmt.Errorf("%w: reply parent belongs to a different chat", errs.ErrValidation)
		}
	}

	msg := &store.Message{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		ParentID: parentID,
	}
	if err := m.store.AppendMessage(ctx, msg, chat.Partner(senderID)); err != nil {
		return nil, err
	}

	m.bcast.BroadcastChat(chatID, protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{
		Message: payload(msg),
	})
	return msg, nil
}

// Edit replaces a message's content. Only the original sender may edit, and
// only within the edit window; the deleted state is terminal.
func (m *Manager) Edit(ctx context.Context, userID, messageID, content string) error {
	if err := ValidateContent(content); err != nil {
		return err
	}

	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := m.requireSenderInWindow(msg, userID, "edit"); err != nil {
		return err
	}

	editedAt := m.now()
	if err := m.store.UpdateContent(ctx, messageID, content, editedAt); err != nil {
		return err
	}

	msg.Content = content
	msg.State = store.StateEdited
	msg.EditedAt = editedAt
	m.bcast.BroadcastChat(msg.ChatID, protocol.TypeMessageEdited, protocol.MessageEditedMsg{
		Message: payload(msg),
	})
	return nil
}

// Delete removes a message for one viewer or for everyone.
//
// Scope "me" hides the message from the requester's own listing only: any
// participant, any time, and the other participant never hears about it.
// Scope "everyone" tombstones the message for both participants: sender
// only, within the edit window.
func (m *Manager) Delete(ctx context.Context, userID, messageID, scope string) error {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	switch scope {
	case protocol.ScopeMe:
		chat, err := m.store.GetChat(ctx, msg.ChatID)
		if err != nil {
			return err
		}
		if !chat.IsParticipant(userID) {
			return fmt.Errorf("%w: user %s is not a participant of chat %s", errs.ErrAuthorization, userID, msg.ChatID)
		}
		if err := m.store.HideForViewer(ctx, messageID, userID); err != nil {
			return err
		}
		m.bcast.SendToUser(userID, protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
			ChatID:    msg.ChatID,
			MessageID: messageID,
			Scope:     protocol.ScopeMe,
		})
		return nil

	case protocol.ScopeEveryone:
		if err := m.requireSenderInWindow(msg, userID, "delete"); err != nil {
			return err
		}
		if err := m.store.MarkDeleted(ctx, messageID); err != nil {
			return err
		}
		m.bcast.BroadcastChat(msg.ChatID, protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
			ChatID:    msg.ChatID,
			MessageID: messageID,
			Scope:     protocol.ScopeEveryone,
		})
		return nil

	default:
		return fmt.Errorf("%w: unknown delete scope %q", errs.ErrValidation, scope)
	}
}

// React toggles the user's reaction on a message: absent adds, same emoji
// removes, different emoji replaces. The store applies the toggle as a
// per-user upsert so concurrent reactions from the two participants cannot
// clobber each other. The resulting reaction set is broadcast to both.
func (m *Manager) React(ctx context.Context, userID, messageID, emoji string) error {
	if err := ValidateEmoji(emoji); err != nil {
		return err
	}

	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Deleted() {
		return fmt.Errorf("%w: cannot react to a deleted message", errs.ErrValidation)
	}
	chat, err := m.store.GetChat(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(userID) {
		return fmt.Errorf("%w: user %s is not a participant of chat %s", errs.ErrAuthorization, userID, msg.ChatID)
	}

	if _, err := m.store.ToggleReaction(ctx, messageID, userID, emoji); err != nil {
		return err
	}

	groups, err := m.store.Reactions(ctx, messageID)
	if err != nil {
		return err
	}

	entries := make([]protocol.ReactionEntry, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, protocol.ReactionEntry{
			Emoji:   g.Emoji,
			Count:   len(g.UserIDs),
			UserIDs: g.UserIDs,
		})
	}
	m.bcast.BroadcastChat(msg.ChatID, protocol.TypeReactionUpdated, protocol.ReactionUpdatedMsg{
		ChatID:    msg.ChatID,
		MessageID: messageID,
		Reactions: entries,
	})
	return nil
}

// Pin adds a message to its chat's pin list. Pinning an already-pinned
// message is a no-op and broadcasts nothing.
func (m *Manager) Pin(ctx context.Context, userID, messageID string) error {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Deleted() {
		return fmt.Errorf("%w: cannot pin a deleted message", errs.ErrValidation)
	}
	chat, err := m.store.GetChat(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(userID) {
		return fmt.Errorf("%w: user %s is not a participant of chat %s", errs.ErrAuthorization, userID, msg.ChatID)
	}

	created, rec, err := m.store.Pin(ctx, msg.ChatID, messageID, userID)
	if err != nil {
		return err
	}
	if !created {
		return nil // already pinned
	}

	m.bcast.BroadcastChat(msg.ChatID, protocol.TypeMessagePinned, protocol.MessagePinnedMsg{
		ChatID:    msg.ChatID,
		MessageID: messageID,
		PinnedBy:  rec.PinnedBy,
		PinnedAt:  rec.PinnedAt.Unix(),
	})
	return nil
}

// Unpin removes a message from its chat's pin list. Unpinning a non-pinned
// message is a no-op and broadcasts nothing.
func (m *Manager) Unpin(ctx context.Context, userID, messageID string) error {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	chat, err := m.store.GetChat(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(userID) {
		return fmt.Errorf("%w: user %s is not a participant of chat %s", errs.ErrAuthorization, userID, msg.ChatID)
	}

	removed, err := m.store.Unpin(ctx, messageID)
	if err != nil {
		return err
	}
	if !removed {
		return nil // was not pinned
	}

	m.bcast.BroadcastChat(msg.ChatID, protocol.TypeMessageUnpinned, protocol.MessageUnpinnedMsg{
		ChatID:    msg.ChatID,
		MessageID: messageID,
	})
	return nil
}

// requireSenderInWindow enforces the ownership and time-window rules shared
// by edit and delete-for-everyone.
func (m *Manager) requireSenderInWindow(msg *store.Message, userID, verb string) error {
	if msg.Deleted() {
		return fmt.Errorf("%w: message %s is deleted", errs.ErrNotFound, msg.ID)
	}
	if msg.SenderID != userID {
		return fmt.Errorf("%w: only the sender may %s a message", errs.ErrAuthorization, verb)
	}
	if m.now().Sub(msg.CreatedAt) > EditWindow {
		return fmt.Errorf("%w: %s window expired", errs.ErrAuthorization, verb)
	}
	return nil
}

// payload converts a stored message to its wire representation.
func payload(msg *store.Message) protocol.MessagePayload {
	p := protocol.MessagePayload{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		ParentID:  msg.ParentID,
		Pinned:    msg.Pinned,
		CreatedAt: msg.CreatedAt.Unix(),
	}
	if msg.State == store.StateEdited {
		p.Edited = true
		p.EditedAt = msg.EditedAt.Unix()
	}
	return p
}
