package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGUsageStore implements store.UsageStore on a monthly rollup table.
type PGUsageStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGUsageStore creates the Postgres usage ledger.
func NewPGUsageStore(db *sql.DB) *PGUsageStore {
	return &PGUsageStore{db: db, now: time.Now}
}

// AddTokens upserts into the tenant's row for the current month.
func (s *PGUsageStore) AddTokens(ctx context.Context, tenant string, inputTokens, outputTokens int) error {
	if tenant == "" {
		return nil
	}

	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (tenant, month, tokens_input, tokens_output, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant, month) DO UPDATE SET
		   tokens_input  = token_usage.tokens_input + EXCLUDED.tokens_input,
		   tokens_output = token_usage.tokens_output + EXCLUDED.tokens_output,
		   updated_at    = EXCLUDED.updated_at`,
		tenant, now.Format("2006-01"), inputTokens, outputTokens, now,
	)
	if err != nil {
		return fmt.Errorf("usage: upsert rollup: %w", err)
	}
	return nil
}
