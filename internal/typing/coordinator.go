// Package typing tracks who is currently typing in which chat. The state is
// ephemeral and node-local: entries live only in memory, expire after a
// short quiet interval, and are torn down when the typist disconnects.
package typing

import (
	"sync"
	"time"

	"github.com/duetchat/duet/internal/metrics"
)

// Expiry is how long a typing entry lives without a fresh keystroke before
// the coordinator emits an implicit stop.
const Expiry = 2 * time.Second

type key struct {
	chatID string
	userID string
}

// Coordinator owns the typing entries and their expiry timers. Each entry's
// lifetime is explicit: it is released on stop, expiry, or disconnect,
// never leaked through an abandoned timer.
type Coordinator struct {
	mu      sync.Mutex
	entries map[key]*time.Timer
	expiry  time.Duration

	// onExpire is invoked (on a timer goroutine) when an entry times out
	// without an explicit stop.
	onExpire func(chatID, userID string)
}

// NewCoordinator creates a Coordinator that calls onExpire whenever a typing
// entry dies of inactivity.
func NewCoordinator(onExpire func(chatID, userID string)) *Coordinator {
	return &Coordinator{
		entries:  make(map[key]*time.Timer),
		expiry:   Expiry,
		onExpire: onExpire,
	}
}

// Start records that the user is typing in the chat. It returns true when
// this is a fresh entry (the caller should broadcast a typing event) and
// false when an existing entry was merely extended. Repeat keystrokes
// debounce instead of re-broadcasting.
func (c *Coordinator) Start(chatID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{chatID, userID}
	if timer, ok := c.entries[k]; ok {
		timer.Reset(c.expiry)
		return false
	}

	c.entries[k] = time.AfterFunc(c.expiry, func() {
		if c.remove(chatID, userID) {
			c.onExpire(chatID, userID)
		}
	})
	metrics.TypingActive.Inc()
	return true
}

// Stop removes the user's typing entry for the chat. It returns true when an
// entry existed (the caller should broadcast a stop event); stopping an
// absent entry is a no-op.
func (c *Coordinator) Stop(chatID, userID string) bool {
	return c.remove(chatID, userID)
}

// StopAll removes every typing entry for the user and returns the chats that
// had one. Called when the user's last connection closes.
func (c *Coordinator) StopAll(userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	chats := []string{}
	for k, timer := range c.entries {
		if k.userID != userID {
			continue
		}
		timer.Stop()
		delete(c.entries, k)
		metrics.TypingActive.Dec()
		chats = append(chats, k.chatID)
	}
	return chats
}

// Active reports whether the user currently has a typing entry in the chat.
func (c *Coordinator) Active(chatID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key{chatID, userID}]
	return ok
}

func (c *Coordinator) remove(chatID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{chatID, userID}
	timer, ok := c.entries[k]
	if !ok {
		return false
	}
	timer.Stop()
	delete(c.entries, k)
	metrics.TypingActive.Dec()
	return true
}

// setExpiry overrides the expiry interval. Test hook.
func (c *Coordinator) setExpiry(d time.Duration) {
	c.mu.Lock()
	c.expiry = d
	c.mu.Unlock()
}
