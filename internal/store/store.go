// Package store is the PostgreSQL persistence adapter for the sync engine.
// It owns the durable truth: the append-only message log and the mutable
// chat/user documents. Creation order within a chat is fixed by the single
// atomic append here; all fan-out happens only after the append succeeds.
//
// Driver errors are wrapped with errs.ErrUnavailable so callers can surface
// them as transient failures; missing rows are wrapped with errs.ErrNotFound.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver

	"github.com/duetchat/duet/internal/errs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the database handle with chat-domain queries.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, verifies the connection, and applies any
// pending schema migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// runMigrations applies the embedded SQL migrations.
func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for collaborators that share the same
// database (the block audit store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapQueryErr converts a driver error into the domain taxonomy. sql.ErrNoRows
// becomes not-found; everything else is a transient store failure.
func wrapQueryErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", errs.ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrUnavailable, op, err)
}
