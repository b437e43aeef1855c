package typing

import (
	"sync"
	"testing"
	"time"
)

type expiry struct {
	chatID string
	userID string
}

func newTestCoordinator() (*Coordinator, chan expiry) {
	expired := make(chan expiry, 16)
	c := NewCoordinator(func(chatID, userID string) {
		expired <- expiry{chatID, userID}
	})
	return c, expired
}

func TestStartIsFreshOnlyOnce(t *testing.T) {
	c, _ := newTestCoordinator()

	if !c.Start("c1", "u1") {
		t.Fatal("first start: expected fresh entry")
	}
	if c.Start("c1", "u1") {
		t.Fatal("second start: expected debounced entry, got fresh")
	}
	if !c.Active("c1", "u1") {
		t.Fatal("expected entry to be active")
	}

	// A different chat or user is its own entry.
	if !c.Start("c2", "u1") {
		t.Fatal("different chat: expected fresh entry")
	}
	if !c.Start("c1", "u2") {
		t.Fatal("different user: expected fresh entry")
	}
}

func TestStop(t *testing.T) {
	c, _ := newTestCoordinator()

	c.Start("c1", "u1")
	if !c.Stop("c1", "u1") {
		t.Fatal("expected stop to report an existing entry")
	}
	if c.Active("c1", "u1") {
		t.Fatal("expected entry to be gone after stop")
	}
	if c.Stop("c1", "u1") {
		t.Fatal("stopping an absent entry must be a no-op")
	}
}

func TestExpiryFiresOnce(t *testing.T) {
	c, expired := newTestCoordinator()
	c.setExpiry(20 * time.Millisecond)

	c.Start("c1", "u1")

	select {
	case e := <-expired:
		if e.chatID != "c1" || e.userID != "u1" {
			t.Fatalf("unexpected expiry: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}

	if c.Active("c1", "u1") {
		t.Fatal("expected entry removed after expiry")
	}

	select {
	case e := <-expired:
		t.Fatalf("unexpected second expiry: %+v", e)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestRepeatKeystrokeExtendsTimer(t *testing.T) {
	c, expired := newTestCoordinator()
	c.setExpiry(60 * time.Millisecond)

	c.Start("c1", "u1")

	// Keep refreshing the entry past the original expiry point.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		c.Start("c1", "u1")
	}

	select {
	case e := <-expired:
		t.Fatalf("entry expired despite refreshes: %+v", e)
	default:
	}

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry after refreshes stopped")
	}
}

func TestExplicitStopBeatsExpiry(t *testing.T) {
	c, expired := newTestCoordinator()
	c.setExpiry(20 * time.Millisecond)

	c.Start("c1", "u1")
	c.Stop("c1", "u1")

	select {
	case e := <-expired:
		t.Fatalf("expiry fired after explicit stop: %+v", e)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestStopAll(t *testing.T) {
	c, _ := newTestCoordinator()

	c.Start("c1", "u1")
	c.Start("c2", "u1")
	c.Start("c1", "u2")

	chats := c.StopAll("u1")
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d (%v)", len(chats), chats)
	}
	if c.Active("c1", "u1") || c.Active("c2", "u1") {
		t.Fatal("expected u1 entries removed")
	}
	if !c.Active("c1", "u2") {
		t.Fatal("expected u2 entry untouched")
	}

	if got := c.StopAll("u1"); len(got) != 0 {
		t.Fatalf("second StopAll: expected no chats, got %v", got)
	}
}

func TestConcurrentStartStop(t *testing.T) {
	c, _ := newTestCoordinator()
	c.setExpiry(5 * time.Millisecond)

	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				c.Start("c1", "u1")
				_ = c.Active("c1", "u1")
				c.Stop("c1", "u1")
			}
		}()
	}
	wg.Wait()

	// Give any in-flight timers a chance to fire.
	time.Sleep(30 * time.Millisecond)
	if c.Active("c1", "u1") {
		c.Stop("c1", "u1")
	}
}
