package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationSnapshots = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
    conversation_id TEXT         PRIMARY KEY,
    platform        TEXT         NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ  NOT NULL,
    user_turns      INTEGER      NOT NULL DEFAULT 0,
    transcript      JSONB        NOT NULL DEFAULT '[]',
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_snapshots_updated_at
    ON conversation_snapshots (updated_at);
`

// Migrate ensures the snapshot table and its indexes exist. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationSnapshots); err != nil {
		return fmt.Errorf("postgres store: create conversation_snapshots: %w", err)
	}
	return nil
}
