// Package history keeps a short in-memory tail of each chat's messages.
// Block audit records attach this tail so a moderator reviewing a block sees
// the exchange that led to it without querying the message log.
package history

import "sync"

// MaxEntries is the number of recent messages retained per chat.
const MaxEntries = 5

// Entry is a single retained message.
type Entry struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Ts        int64  `json:"ts"`
}

// Buffer stores the last N messages per chat. It is goroutine-safe and uses
// a fixed-size ring per chat.
type Buffer struct {
	mu    sync.RWMutex
	rings map[string]*ring // chatID -> ring
}

type ring struct {
	items []Entry
	pos   int
	count int
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		rings: make(map[string]*ring),
	}
}

// Add appends an entry to the chat's ring. When the ring is full the oldest
// entry is overwritten.
func (b *Buffer) Add(chatID string, e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[chatID]
	if !ok {
		r = &ring{items: make([]Entry, MaxEntries)}
		b.rings[chatID] = r
	}

	r.items[r.pos] = e
	r.pos = (r.pos + 1) % MaxEntries
	if r.count < MaxEntries {
		r.count++
	}
}

// Tail returns the chat's retained messages in chronological order (oldest
// first). Returns an empty slice for an unknown chat.
func (b *Buffer) Tail(chatID string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[chatID]
	if !ok {
		return []Entry{}
	}

	out := make([]Entry, r.count)
	start := (r.pos - r.count + MaxEntries) % MaxEntries
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%MaxEntries]
	}
	return out
}

// Drop deletes the ring for a chat.
func (b *Buffer) Drop(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.rings, chatID)
}
