// Package router wires client operations to the domain components and fans
// results back out. Every outbound event travels through a NATS subject,
// even between two connections on the same instance: chat.<id> reaches the
// joined connections of both participants, user.<id> reaches every
// connection of a single user.
package router

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/duetchat/duet/internal/block"
	"github.com/duetchat/duet/internal/errs"
	"github.com/duetchat/duet/internal/history"
	"github.com/duetchat/duet/internal/message"
	"github.com/duetchat/duet/internal/messaging"
	"github.com/duetchat/duet/internal/metrics"
	"github.com/duetchat/duet/internal/presence"
	"github.com/duetchat/duet/internal/protocol"
	"github.com/duetchat/duet/internal/ratelimit"
	"github.com/duetchat/duet/internal/registry"
	"github.com/duetchat/duet/internal/status"
	"github.com/duetchat/duet/internal/store"
	"github.com/duetchat/duet/internal/typing"
	"github.com/duetchat/duet/internal/ws"
)

// opTimeout bounds the store and Redis work done for one client operation.
const opTimeout = 5 * time.Second

// Router owns the per-connection fan-out state and registers a handler for
// every client operation on the dispatcher.
type Router struct {
	server   *ws.Server
	nats     *messaging.Client
	store    *store.Store
	limiter  *ratelimit.Limiter // may be nil
	sessions *registry.Registry
	presence *presence.Tracker
	typing   *typing.Coordinator
	status   *status.Tracker
	messages *message.Manager
	blocks   *block.Gate
	history  *history.Buffer

	mu     sync.Mutex
	joined map[string]map[string]struct{} // connID -> set of joined chat IDs
}

// NewRouter builds a Router and the domain components it coordinates. The
// limiter may be nil to disable send throttling.
func NewRouter(st *store.Store, nc *messaging.Client, limiter *ratelimit.Limiter) *Router {
	r := &Router{
		nats:     nc,
		store:    st,
		limiter:  limiter,
		sessions: registry.NewRegistry(),
		history:  history.NewBuffer(),
		joined:   make(map[string]map[string]struct{}),
	}
	r.blocks = block.NewGate(st, nc)
	r.messages = message.NewManager(st, r.blocks, r)
	r.status = status.NewTracker(st, r)
	r.typing = typing.NewCoordinator(r.onTypingExpired)
	r.presence = presence.NewTracker(r.sessions, st, nc)
	return r
}

// SetServer assigns the WebSocket server reference. This supports the
// initialization pattern where the router is created before the server.
func (r *Router) SetServer(s *ws.Server) {
	r.server = s
}

// ---------------------------------------------------------------------------
// Fan-out (message.Broadcaster and status.Notifier)
// ---------------------------------------------------------------------------

// BroadcastChat publishes an event to every joined connection of the chat's
// two participants.
func (r *Router) BroadcastChat(chatID, msgType string, payload interface{}) {
	start := time.Now()
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("router: build %s for chat=%s: %v", msgType, chatID, err)
		return
	}
	if err := r.nats.PublishChatEvent(chatID, data); err != nil {
		log.Printf("router: publish %s to chat=%s: %v", msgType, chatID, err)
		return
	}
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
}

// SendToUser publishes an event to every connection of one user.
func (r *Router) SendToUser(userID, msgType string, payload interface{}) {
	start := time.Now()
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("router: build %s for user=%s: %v", msgType, userID, err)
		return
	}
	if err := r.nats.PublishUserEvent(userID, data); err != nil {
		log.Printf("router: publish %s to user=%s: %v", msgType, userID, err)
		return
	}
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// HandleConnect is the ws.Server onConnect callback. It subscribes the
// connection to its user subject, registers it with the session registry,
// drives the presence 0->1 transition, and sends the connection its presence
// snapshot of online chat partners.
func (r *Router) HandleConnect(conn *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	connID := conn.ID
	if err := r.nats.SubscribeUser(conn.UserID, userSubKey(connID), func(data []byte) {
		_ = r.server.SendMessage(connID, data)
	}); err != nil {
		log.Printf("router: user subscribe session=%s: %v", connID, err)
	}

	refCount := r.sessions.Add(conn.UserID, connID)
	r.presence.HandleConnect(ctx, conn.UserID, refCount)

	partners, err := r.store.PartnerIDs(ctx, conn.UserID)
	if err != nil {
		log.Printf("router: partner ids for user=%s: %v", conn.UserID, err)
		return
	}
	data, err := protocol.NewServerMessage(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
		UserIDs: r.presence.Snapshot(partners),
	})
	if err != nil {
		log.Printf("router: build online_users for session=%s: %v", connID, err)
		return
	}
	if err := r.server.SendMessage(connID, data); err != nil {
		log.Printf("router: send online_users to session=%s: %v", connID, err)
	}
}

// HandleDisconnect is the ws.Server onDisconnect callback. It tears down the
// connection's subscriptions, releases its registry entry, stops the user's
// typing entries when their final connection closed, and drives the presence
// offline transition.
func (r *Router) HandleDisconnect(conn *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	r.mu.Lock()
	chats := r.joined[conn.ID]
	delete(r.joined, conn.ID)
	r.mu.Unlock()

	for chatID := range chats {
		r.nats.Unsubscribe(chatSubKey(conn.ID, chatID))
	}
	r.nats.Unsubscribe(userSubKey(conn.ID))

	remaining := r.sessions.Remove(conn.UserID, conn.ID)
	if remaining == 0 {
		// Implicit stop for anything the user was typing. With another
		// device still connected the entry stays; its timer will expire it
		// if that device is not actually typing.
		for _, chatID := range r.typing.StopAll(conn.UserID) {
			r.notifyTyping(ctx, chatID, conn.UserID, protocol.TypeStopTyping)
		}
	}
	r.presence.HandleDisconnect(ctx, conn.UserID, remaining)
}

// ---------------------------------------------------------------------------
// Operation handlers
// ---------------------------------------------------------------------------

// RegisterHandlers registers a handler for every client operation on the
// dispatcher. Ping is handled inside the dispatcher itself.
func (r *Router) RegisterHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeJoin, r.handleJoin)
	d.Register(protocol.TypeSend, r.handleSend)
	d.Register(protocol.TypeEdit, r.handleEdit)
	d.Register(protocol.TypeDelete, r.handleDelete)
	d.Register(protocol.TypeReact, r.handleReact)
	d.Register(protocol.TypePin, r.handlePin)
	d.Register(protocol.TypeUnpin, r.handleUnpin)
	d.Register(protocol.TypeTypingStart, r.handleTypingStart)
	d.Register(protocol.TypeTypingStop, r.handleTypingStop)
	d.Register(protocol.TypeUpdateStatus, r.handleUpdateStatus)
	d.Register(protocol.TypeBlock, r.handleBlock)
	d.Register(protocol.TypeUnblock, r.handleUnblock)
}

func (r *Router) handleJoin(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.JoinMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	chat, err := r.store.GetChat(ctx, m.ChatID)
	if err != nil {
		r.reject(conn, "join", err)
		return
	}
	if !chat.IsParticipant(conn.UserID) {
		r.reject(conn, "join", errs.ErrAuthorization)
		return
	}

	connID := conn.ID
	if err := r.nats.SubscribeChat(m.ChatID, chatSubKey(connID, m.ChatID), func(data []byte) {
		_ = r.server.SendMessage(connID, data)
	}); err != nil {
		log.Printf("router: chat subscribe session=%s chat=%s: %v", connID, m.ChatID, err)
		r.reject(conn, "join", errs.ErrUnavailable)
		return
	}

	r.mu.Lock()
	set, ok := r.joined[connID]
	if !ok {
		set = make(map[string]struct{})
		r.joined[connID] = set
	}
	set[m.ChatID] = struct{}{}
	r.mu.Unlock()

	r.replyOK(conn, "join", protocol.TypeJoined, protocol.JoinedMsg{ChatID: m.ChatID})
}

func (r *Router) handleSend(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.SendMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if r.limiter != nil {
		allowed, _ := r.limiter.Allow(ctx, conn.UserID, ratelimit.RuleSend)
		if !allowed {
			metrics.OperationsTotal.WithLabelValues("send", "rejected").Inc()
			data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: r.limiter.RetryAfter(ctx, conn.UserID, ratelimit.RuleSend),
			})
			if err == nil {
				_ = conn.WriteMessage(data)
			}
			return
		}
	}

	sent, err := r.messages.Send(ctx, conn.UserID, m.ChatID, m.Content, m.ParentID)
	if err != nil {
		r.reject(conn, "send", err)
		return
	}

	// Retained tail for block audit records.
	r.history.Add(sent.ChatID, history.Entry{
		MessageID: sent.ID,
		SenderID:  sent.SenderID,
		Content:   sent.Content,
		Ts:        sent.CreatedAt.Unix(),
	})
	metrics.OperationsTotal.WithLabelValues("send", "ok").Inc()
}

func (r *Router) handleEdit(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.EditMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.messages.Edit(ctx, conn.UserID, m.MessageID, m.Content); err != nil {
		r.reject(conn, "edit", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("edit", "ok").Inc()
}

func (r *Router) handleDelete(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.DeleteMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.messages.Delete(ctx, conn.UserID, m.MessageID, m.Scope); err != nil {
		r.reject(conn, "delete", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("delete", "ok").Inc()
}

func (r *Router) handleReact(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.ReactMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.messages.React(ctx, conn.UserID, m.MessageID, m.Emoji); err != nil {
		r.reject(conn, "react", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("react", "ok").Inc()
}

func (r *Router) handlePin(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.PinMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.messages.Pin(ctx, conn.UserID, m.MessageID); err != nil {
		r.reject(conn, "pin", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("pin", "ok").Inc()
}

func (r *Router) handleUnpin(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.UnpinMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.messages.Unpin(ctx, conn.UserID, m.MessageID); err != nil {
		r.reject(conn, "unpin", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("unpin", "ok").Inc()
}

func (r *Router) handleTypingStart(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.TypingStartMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Only a fresh entry broadcasts; repeat keystrokes extend the timer.
	if r.typing.Start(m.ChatID, conn.UserID) {
		r.notifyTyping(ctx, m.ChatID, conn.UserID, protocol.TypeTyping)
	}
}

func (r *Router) handleTypingStop(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.TypingStopMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if r.typing.Stop(m.ChatID, conn.UserID) {
		r.notifyTyping(ctx, m.ChatID, conn.UserID, protocol.TypeStopTyping)
	}
}

func (r *Router) handleUpdateStatus(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.UpdateStatusMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.status.Advance(ctx, conn.UserID, m.ChatID, m.MessageIDs, m.Status); err != nil {
		r.reject(conn, "update_status", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("update_status", "ok").Inc()
}

func (r *Router) handleBlock(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.BlockMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// The audit record carries the recent tail of the pair's conversation,
	// when this instance has one.
	var tail []history.Entry
	if chat, err := r.store.ChatBetween(ctx, conn.UserID, m.TargetUserID); err == nil {
		tail = r.history.Tail(chat.ID)
	}

	if err := r.blocks.Block(ctx, conn.UserID, m.TargetUserID, tail); err != nil {
		r.reject(conn, "block", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("block", "ok").Inc()
}

func (r *Router) handleUnblock(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.UnblockMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.blocks.Unblock(ctx, conn.UserID, m.TargetUserID); err != nil {
		r.reject(conn, "unblock", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("unblock", "ok").Inc()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// notifyTyping sends a typing or stop_typing event to the chat's other
// participant. Typing indicators address the partner only, never echo back
// to the typist's own devices.
func (r *Router) notifyTyping(ctx context.Context, chatID, userID, msgType string) {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		log.Printf("router: typing chat lookup chat=%s: %v", chatID, err)
		return
	}
	if !chat.IsParticipant(userID) {
		return
	}
	r.SendToUser(chat.Partner(userID), msgType, protocol.TypingMsg{
		ChatID: chatID,
		UserID: userID,
	})
}

// onTypingExpired runs on a typing coordinator timer goroutine when an entry
// dies of inactivity.
func (r *Router) onTypingExpired(chatID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	r.notifyTyping(ctx, chatID, userID, protocol.TypeStopTyping)
}

// reject reports an operation failure to the client with the protocol error
// code for the failure's sentinel.
func (r *Router) reject(conn *ws.Connection, op string, err error) {
	outcome := "rejected"
	if errors.Is(err, errs.ErrUnavailable) || errs.Code(err) == "internal_error" {
		outcome = "error"
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	log.Printf("router: %s rejected session=%s user=%s: %v", op, conn.ID, conn.UserID, err)

	data, buildErr := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    errs.Code(err),
		Message: err.Error(),
	})
	if buildErr != nil {
		log.Printf("router: build error reply session=%s: %v", conn.ID, buildErr)
		return
	}
	if writeErr := conn.WriteMessage(data); writeErr != nil {
		log.Printf("router: send error reply session=%s: %v", conn.ID, writeErr)
	}
}

// replyOK sends a direct success reply to the requesting connection.
func (r *Router) replyOK(conn *ws.Connection, op, msgType string, payload interface{}) {
	metrics.OperationsTotal.WithLabelValues(op, "ok").Inc()
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("router: build %s reply session=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("router: send %s reply session=%s: %v", msgType, conn.ID, err)
	}
}

func userSubKey(connID string) string {
	return "usersub:" + connID
}

func chatSubKey(connID, chatID string) string {
	return "chatsub:" + connID + ":" + chatID
}
