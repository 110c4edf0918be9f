package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
)

// HistoryLimit caps the KV-backed conversation log. Older entries fall
// off; the dashboard only ever shows the recent exchange.
const HistoryLimit = 50

// KVUsage rolls token usage up into one KV record per tenant per month.
type KVUsage struct {
	store kvstore.Store
	now   func() time.Time
}

// NewKVUsage creates a KV-backed usage ledger.
func NewKVUsage(store kvstore.Store) *KVUsage {
	return &KVUsage{store: store, now: time.Now}
}

// WithClock overrides the ledger clock. Tests only.
func (u *KVUsage) WithClock(now func() time.Time) *KVUsage {
	u.now = now
	return u
}

type usageRecord struct {
	TokensInput  int   `json:"tokens_input"`
	TokensOutput int   `json:"tokens_output"`
	LastUpdate   int64 `json:"last_update"`
}

func usagePath(tenant, monthKey string) string {
	return fmt.Sprintf("establishments/%s/usage/%s", tenant, monthKey)
}

// AddTokens accumulates usage into the current month's record.
func (u *KVUsage) AddTokens(ctx context.Context, tenant string, inputTokens, outputTokens int) error {
	if tenant == "" {
		return nil
	}

	now := u.now()
	path := usagePath(tenant, now.Format("2006-01"))

	var rec usageRecord
	err := kvstore.GetJSON(ctx, u.store, path, &rec)
	if err != nil && err != kvstore.ErrNotFound {
		return fmt.Errorf("usage: read rollup: %w", err)
	}

	rec.TokensInput += inputTokens
	rec.TokensOutput += outputTokens
	rec.LastUpdate = now.Unix()
	if err := u.store.Set(ctx, path, rec); err != nil {
		return fmt.Errorf("usage: write rollup: %w", err)
	}
	return nil
}

// KVHistory keeps conversation logs as a capped JSON array per user.
type KVHistory struct {
	store kvstore.Store
}

// NewKVHistory creates a KV-backed history log.
func NewKVHistory(store kvstore.Store) *KVHistory {
	return &KVHistory{store: store}
}

func historyPath(tenant, user string) string {
	return fmt.Sprintf("establishments/%s/users/%s/conversations", tenant, user)
}

// Append adds one entry, trimming the log to HistoryLimit.
func (h *KVHistory) Append(ctx context.Context, tenant, user, role, content string) error {
	path := historyPath(tenant, user)

	var history []Message
	raw, err := h.store.Get(ctx, path)
	if err != nil && err != kvstore.ErrNotFound {
		return fmt.Errorf("history: read: %w", err)
	}
	if err == nil {
		if uerr := json.Unmarshal(raw, &history); uerr != nil {
			return fmt.Errorf("history: decode: %w", uerr)
		}
	}

	history = append(history, Message{Role: role, Content: content})
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}
	if err := h.store.Set(ctx, path, history); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// Recent returns up to limit newest entries, oldest first.
func (h *KVHistory) Recent(ctx context.Context, tenant, user string, limit int) ([]Message, error) {
	raw, err := h.store.Get(ctx, historyPath(tenant, user))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read: %w", err)
	}

	var history []Message
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
