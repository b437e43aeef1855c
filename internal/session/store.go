// Package session stores per-connection session records in Redis. The
// in-memory registry is the authority for fan-out; these records exist for
// ops visibility (which user is on which server) and so that sessions from
// an uncleanly died server instance expire on their own via TTL.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for all session hashes.
	Prefix = "session:"

	// TTL is the time-to-live for session keys in Redis. The heartbeat
	// refreshes it while the connection stays alive.
	TTL = 1 * time.Hour
)

// Session is one connection's record as stored in Redis.
type Session struct {
	ID          string `redis:"id"`
	UserID      string `redis:"user_id"`
	Server      string `redis:"server"`       // which sync-server instance
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
	LastActive  int64  `redis:"last_active"`  // unix timestamp
}

// Store manages session records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this sync-server instance
}

// NewStore creates a session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new session record with a 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID, userID string) error {
	key := Prefix + sessionID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"id":           sessionID,
		"user_id":      userID,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := Prefix + sessionID
	var sess Session
	err := s.client.HGetAll(ctx, key).Scan(&sess)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil // not found
	}
	return &sess, nil
}

// Touch updates the last-active stamp and refreshes the TTL.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := Prefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, Prefix+sessionID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (the rate limiter shares this connection).
func (s *Store) Client() *redis.Client {
	return s.client
}
