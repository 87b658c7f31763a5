// Package db provides PostgreSQL persistence for the scrobble history,
// catalog metadata and sync checkpoints.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// querier is the subset of pgx operations repositories run against. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so every repository method works
// inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the repositories over one querier. A Store handed out by
// WithTx runs everything inside that transaction.
type Store struct {
	q querier
}

// Artists returns an ArtistRepository.
func (s *Store) Artists() *ArtistRepository {
	return &ArtistRepository{q: s.q}
}

// Albums returns an AlbumRepository.
func (s *Store) Albums() *AlbumRepository {
	return &AlbumRepository{q: s.q}
}

// Tracks returns a TrackRepository.
func (s *Store) Tracks() *TrackRepository {
	return &TrackRepository{q: s.q}
}

// Plays returns a PlayRepository.
func (s *Store) Plays() *PlayRepository {
	return &PlayRepository{q: s.q}
}

// Checkpoints returns a CheckpointRepository.
func (s *Store) Checkpoints() *CheckpointRepository {
	return &CheckpointRepository{q: s.q}
}

// Playlists returns a PlaylistRepository.
func (s *Store) Playlists() *PlaylistRepository {
	return &PlaylistRepository{q: s.q}
}

// DB wraps a PostgreSQL connection pool.
type DB struct {
	Store
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Store: Store{q: pool}, pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// WithTx runs fn inside one transaction. The whole unit of work commits
// atomically; any error rolls everything back with no partial writes visible.
func (db *DB) WithTx(ctx context.Context, fn func(s *Store) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
