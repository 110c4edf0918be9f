// Package agents resolves which tenant agent answers a conversation and
// manages the assistant threads behind each agent.
package agents

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
)

// Well-known agent ids. Every tenant has a main agent; the admin agent
// answers the tenant's self-chat when configured.
const (
	MainAgent  = "main_agent"
	AdminAgent = "adm_agent"
)

// Config is the per-agent record kept under the tenant.
type Config struct {
	AssistantID string `json:"assistant_id"`
	Name        string `json:"name"`
}

// ThreadInfo is the per-user, per-agent thread record.
type ThreadInfo struct {
	ThreadID         string `json:"thread_id,omitempty"`
	InstructionsHash string `json:"hash_instructions,omitempty"`
	ThreadLastUsedAt int64  `json:"thread_last_used_at,omitempty"`
	AgentLastUsedAt  int64  `json:"agent_last_used_at,omitempty"`
}

// Resolver picks the agent for a conversation and reads agent records
// from the KV store.
type Resolver struct {
	store       kvstore.Store
	lastUsedTTL time.Duration
	now         func() time.Time
}

// NewResolver creates a resolver with the given current-agent stickiness.
func NewResolver(store kvstore.Store, lastUsedTTL time.Duration) *Resolver {
	return &Resolver{store: store, lastUsedTTL: lastUsedTTL, now: time.Now}
}

// WithClock overrides the resolver clock. Tests only.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func AgentPath(tenant, agentID string) string {
	return fmt.Sprintf("establishments/%s/agents/%s", tenant, agentID)
}

func ThreadPath(tenant, user, agentID string) string {
	return fmt.Sprintf("establishments/%s/users/%s/threads/%s", tenant, user, agentID)
}

func currentAgentPath(tenant, user string) string {
	return fmt.Sprintf("establishments/%s/users/%s/current_agent", tenant, user)
}

func apiKeyPath(tenant string) string {
	return fmt.Sprintf("establishments/%s/openai_key", tenant)
}

// Resolve returns the agent id for a conversation, or "" when the tenant
// has no agent that can answer it.
//
// The tenant's self-chat goes to the admin agent if one is configured and
// is otherwise unanswered. Regular users stick to their current agent as
// long as it was used recently; a stale current agent falls back to the
// main agent rather than resuming an old handoff.
func (r *Resolver) Resolve(ctx context.Context, tenant, user string) (string, error) {
	if tenant == user {
		_, err := r.store.Get(ctx, AgentPath(tenant, AdminAgent))
		if err == kvstore.ErrNotFound {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("agents: resolve admin: %w", err)
		}
		return AdminAgent, nil
	}

	current, err := kvstore.GetString(ctx, r.store, currentAgentPath(tenant, user))
	if err != nil {
		return "", fmt.Errorf("agents: resolve current: %w", err)
	}
	if current == "" {
		return MainAgent, nil
	}

	var info ThreadInfo
	err = kvstore.GetJSON(ctx, r.store, ThreadPath(tenant, user, current), &info)
	if err != nil && err != kvstore.ErrNotFound {
		return "", fmt.Errorf("agents: resolve thread info: %w", err)
	}
	if info.AgentLastUsedAt > 0 && r.now().Sub(time.Unix(info.AgentLastUsedAt, 0)) < r.lastUsedTTL {
		return current, nil
	}

	slog.Warn("current agent stale, falling back",
		"tenant", tenant, "user", user, "current", current)
	return MainAgent, nil
}

// Get returns the agent config, or kvstore.ErrNotFound.
func (r *Resolver) Get(ctx context.Context, tenant, agentID string) (*Config, error) {
	var cfg Config
	if err := kvstore.GetJSON(ctx, r.store, AgentPath(tenant, agentID), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetCurrent records the user's active agent after a handoff.
func (r *Resolver) SetCurrent(ctx context.Context, tenant, user, agentID string) error {
	return r.store.Set(ctx, currentAgentPath(tenant, user), agentID)
}

// TouchAgentUsed stamps the agent's last-used time on the user's thread
// record, keeping the current agent sticky.
func (r *Resolver) TouchAgentUsed(ctx context.Context, tenant, user, agentID string) error {
	return r.store.Update(ctx, ThreadPath(tenant, user, agentID), map[string]any{
		"agent_last_used_at": r.now().Unix(),
	})
}

// APIKey returns the tenant's OpenAI API key from the KV store.
func (r *Resolver) APIKey(ctx context.Context, tenant string) (string, error) {
	key, err := kvstore.GetString(ctx, r.store, apiKeyPath(tenant))
	if err != nil {
		return "", fmt.Errorf("agents: api key: %w", err)
	}
	if key == "" {
		return "", fmt.Errorf("agents: no API key configured for %s", tenant)
	}
	return key, nil
}

// HashInstructions fingerprints an assistant prompt. Threads are only
// reused while the prompt is unchanged, so an edited prompt starts a
// clean conversation.
func HashInstructions(instructions string) string {
	trimmed := strings.TrimSpace(instructions)
	if trimmed == "" {
		return ""
	}
	sum := md5.Sum([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}
