package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
)

// ThreadCreator creates a new assistant thread. Satisfied by the
// assistant client.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// Threads manages per-user assistant thread reuse.
type Threads struct {
	store       kvstore.Store
	reuseWindow time.Duration
	now         func() time.Time
}

// NewThreads creates the thread service with the given reuse window.
func NewThreads(store kvstore.Store, reuseWindow time.Duration) *Threads {
	return &Threads{store: store, reuseWindow: reuseWindow, now: time.Now}
}

// WithClock overrides the thread service clock. Tests only.
func (t *Threads) WithClock(now func() time.Time) *Threads {
	t.now = now
	return t
}

// ThreadID returns the thread for a user/agent pair, reusing the stored
// one while it is fresh and the assistant prompt is unchanged, otherwise
// creating a new thread via the creator.
func (t *Threads) ThreadID(ctx context.Context, tenant, user, agentID, instructionsHash string, creator ThreadCreator) (string, error) {
	var info ThreadInfo
	err := kvstore.GetJSON(ctx, t.store, ThreadPath(tenant, user, agentID), &info)
	if err != nil && err != kvstore.ErrNotFound {
		return "", fmt.Errorf("agents: thread lookup: %w", err)
	}

	now := t.now()
	fresh := info.ThreadLastUsedAt > 0 && now.Sub(time.Unix(info.ThreadLastUsedAt, 0)) < t.reuseWindow
	if info.ThreadID != "" && fresh && info.InstructionsHash == instructionsHash {
		if err := t.store.Update(ctx, ThreadPath(tenant, user, agentID), map[string]any{
			"thread_last_used_at": now.Unix(),
		}); err != nil {
			return "", fmt.Errorf("agents: thread touch: %w", err)
		}
		slog.Debug("reusing thread", "tenant", tenant, "user", user, "agent", agentID, "thread", info.ThreadID)
		return info.ThreadID, nil
	}

	return t.CreateNew(ctx, tenant, user, agentID, instructionsHash, creator)
}

// CreateNew always creates a fresh thread and persists its record. The
// agent_last_used_at stamp on the record survives; only the thread
// fields are replaced.
func (t *Threads) CreateNew(ctx context.Context, tenant, user, agentID, instructionsHash string, creator ThreadCreator) (string, error) {
	threadID, err := creator.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("agents: create thread: %w", err)
	}

	if err := t.store.Update(ctx, ThreadPath(tenant, user, agentID), map[string]any{
		"thread_id":           threadID,
		"hash_instructions":   instructionsHash,
		"thread_last_used_at": t.now().Unix(),
	}); err != nil {
		return "", fmt.Errorf("agents: persist thread: %w", err)
	}
	slog.Info("created thread", "tenant", tenant, "user", user, "agent", agentID, "thread", threadID)
	return threadID, nil
}
