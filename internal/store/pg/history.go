package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/zapdesk/internal/store"
)

// PGHistoryStore implements store.HistoryStore on an append-only table.
// Unlike the KV variant nothing is trimmed on write; Recent just reads
// the tail.
type PGHistoryStore struct {
	db *sql.DB
}

// NewPGHistoryStore creates the Postgres conversation log.
func NewPGHistoryStore(db *sql.DB) *PGHistoryStore {
	return &PGHistoryStore{db: db}
}

// Append inserts one history entry.
func (s *PGHistoryStore) Append(ctx context.Context, tenant, user, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_history (id, tenant, user_phone, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.Must(uuid.NewV7()), tenant, user, role, content,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns the newest entries, oldest first.
func (s *PGHistoryStore) Recent(ctx context.Context, tenant, user string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = store.HistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM (
		   SELECT role, content, created_at FROM conversation_history
		   WHERE tenant = $1 AND user_phone = $2
		   ORDER BY created_at DESC LIMIT $3
		 ) tail ORDER BY created_at ASC`,
		tenant, user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
