// Package status advances per-recipient delivery status. Status moves only
// forward through sent, delivered, seen; a stale update (marking delivered
// after seen) is dropped rather than rewinding state.
package status

import (
	"context"
	"fmt"

	"github.com/duetchat/duet/internal/errs"
	"github.com/duetchat/duet/internal/protocol"
	"github.com/duetchat/duet/internal/store"
)

// Store is the subset of the persisted store the tracker needs.
type Store interface {
	GetChat(ctx context.Context, chatID string) (*store.Chat, error)
	AdvanceStatus(ctx context.Context, messageIDs []string, recipientID string, status int) ([]string, error)
}

// Notifier delivers the status echo to every session of one user.
type Notifier interface {
	SendToUser(userID, msgType string, payload interface{})
}

// Tracker applies batched delivery-status updates and echoes the advanced
// subset back to the messages' sender.
type Tracker struct {
	store    Store
	notifier Notifier
}

// NewTracker creates a Tracker.
func NewTracker(s Store, n Notifier) *Tracker {
	return &Tracker{store: s, notifier: n}
}

// Advance marks the given messages as delivered or seen for the requesting
// recipient. The store skips any message whose status is already at or past
// the target, so retried and out-of-order updates are safe to apply. Only the
// messages that actually advanced are echoed to the sender; a batch in which
// nothing advanced produces no echo at all.
func (t *Tracker) Advance(ctx context.Context, userID, chatID string, messageIDs []string, statusName string) error {
	if len(messageIDs) == 0 {
		return fmt.Errorf("%w: message_ids is empty", errs.ErrValidation)
	}

	var target int
	switch statusName {
	case protocol.StatusDelivered:
		target = store.DeliveryDelivered
	case protocol.StatusSeen:
		target = store.DeliverySeen
	default:
		return fmt.Errorf("%w: unknown status %q", errs.ErrValidation, statusName)
	}

	chat, err := t.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(userID) {
		return fmt.Errorf("%w: user %s is not a participant of chat %s", errs.ErrAuthorization, userID, chatID)
	}

	// The recipient scoping below means a user can only ever advance status
	// rows that name them, so a request listing the user's own sent messages
	// simply advances nothing.
	advanced, err := t.store.AdvanceStatus(ctx, messageIDs, userID, target)
	if err != nil {
		return err
	}
	if len(advanced) == 0 {
		return nil
	}

	t.notifier.SendToUser(chat.Partner(userID), protocol.TypeStatusUpdated, protocol.StatusUpdatedMsg{
		ChatID:     chatID,
		MessageIDs: advanced,
		Status:     statusName,
	})
	return nil
}
