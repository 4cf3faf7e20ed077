// Package postgres provides a PostgreSQL-backed [bridge.SessionStore] so
// conversation snapshots survive process restarts. The in-process
// [bridge.MemoryStore] remains the default; deployments that need resumable
// conversations across instances configure a DSN.
//
// All operations share a single [pgxpool.Pool] and are safe for concurrent
// use.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxbridge/voxbridge/internal/bridge"
)

var _ bridge.SessionStore = (*Store)(nil)

// Store persists conversation snapshots in a conversation_snapshots table.
// Obtain one via [NewStore].
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate] to ensure the snapshot table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Suits a readiness checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements [bridge.SessionStore]. It upserts the snapshot keyed by
// conversation id.
func (s *Store) Save(ctx context.Context, snap bridge.Snapshot) error {
	transcript, err := json.Marshal(snap.Transcript)
	if err != nil {
		return fmt.Errorf("postgres store: marshal transcript: %w", err)
	}

	const q = `
		INSERT INTO conversation_snapshots
		    (conversation_id, platform, started_at, user_turns, transcript, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (conversation_id) DO UPDATE SET
		    platform   = EXCLUDED.platform,
		    started_at = EXCLUDED.started_at,
		    user_turns = EXCLUDED.user_turns,
		    transcript = EXCLUDED.transcript,
		    updated_at = now()`

	_, err = s.pool.Exec(ctx, q,
		snap.ConversationID,
		snap.Platform,
		snap.StartedAt,
		snap.UserTurns,
		transcript,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save snapshot: %w", err)
	}
	return nil
}

// Load implements [bridge.SessionStore]. A missing conversation reports
// found=false with a nil error.
func (s *Store) Load(ctx context.Context, conversationID string) (bridge.Snapshot, bool, error) {
	const q = `
		SELECT conversation_id, platform, started_at, user_turns, transcript
		FROM   conversation_snapshots
		WHERE  conversation_id = $1`

	var (
		snap       bridge.Snapshot
		transcript []byte
	)
	err := s.pool.QueryRow(ctx, q, conversationID).Scan(
		&snap.ConversationID,
		&snap.Platform,
		&snap.StartedAt,
		&snap.UserTurns,
		&transcript,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return bridge.Snapshot{}, false, nil
	}
	if err != nil {
		return bridge.Snapshot{}, false, fmt.Errorf("postgres store: load snapshot: %w", err)
	}

	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &snap.Transcript); err != nil {
			return bridge.Snapshot{}, false, fmt.Errorf("postgres store: unmarshal transcript: %w", err)
		}
	}
	return snap, true, nil
}

// Delete implements [bridge.SessionStore]. Deleting an absent conversation
// is not an error.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	const q = `DELETE FROM conversation_snapshots WHERE conversation_id = $1`
	if _, err := s.pool.Exec(ctx, q, conversationID); err != nil {
		return fmt.Errorf("postgres store: delete snapshot: %w", err)
	}
	return nil
}
