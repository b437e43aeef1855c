// Package messaging provides a NATS client wrapper for pub/sub fan-out
// between sync-server instances. Every outbound protocol event travels
// through a NATS subject, even when sender and receiver sit on the same
// instance, so delivery behaves identically in single- and multi-node
// deployments.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	// SubjectChat + ".<chat_id>" carries events for every joined
	// connection of a chat's two participants.
	SubjectChat = "chat"

	// SubjectUser + ".<user_id>" carries events addressed to every
	// connection of a single user (status echoes, presence, delete-for-me).
	SubjectUser = "user"

	// SubjectBlockAudit carries block/unblock audit records. Consumed off
	// the critical path by the audit writer.
	SubjectBlockAudit = "audit.blocks"
)

// Client wraps the NATS connection with helper methods for pub/sub.
// Subscriptions are tracked under caller-supplied keys so that a
// connection's subscriptions can be torn down on disconnect.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "duet",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishChatEvent publishes data to the chat.<chatID> subject.
func (c *Client) PublishChatEvent(chatID string, data []byte) error {
	return c.conn.Publish(SubjectChat+"."+chatID, data)
}

// PublishUserEvent publishes data to the user.<userID> subject.
func (c *Client) PublishUserEvent(userID string, data []byte) error {
	return c.conn.Publish(SubjectUser+"."+userID, data)
}

// PublishBlockAudit publishes a block/unblock audit record.
func (c *Client) PublishBlockAudit(data []byte) error {
	return c.conn.Publish(SubjectBlockAudit, data)
}

// SubscribeChat subscribes to the chat.<chatID> subject under the given key.
// A subscription already registered under the key is replaced.
func (c *Client) SubscribeChat(chatID, key string, handler func(data []byte)) error {
	return c.subscribe(SubjectChat+"."+chatID, key, handler)
}

// SubscribeUser subscribes to the user.<userID> subject under the given key.
func (c *Client) SubscribeUser(userID, key string, handler func(data []byte)) error {
	return c.subscribe(SubjectUser+"."+userID, key, handler)
}

// SubscribeBlockAudit subscribes the audit writer to block/unblock records.
func (c *Client) SubscribeBlockAudit(handler func(data []byte)) error {
	return c.subscribe(SubjectBlockAudit, "blockaudit", handler)
}

func (c *Client) subscribe(subject, key string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription registered under key. Unknown keys
// are ignored so disconnect cleanup can be unconditional.
func (c *Client) Unsubscribe(key string) {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if ok {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe %s: %v", key, err)
		}
	}
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
