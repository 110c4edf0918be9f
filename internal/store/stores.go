// Package store holds the persistence interfaces for token usage and
// conversation history, with KV-backed and Postgres-backed
// implementations. The KV variants run anywhere the buffer store runs;
// Postgres is the managed-mode upgrade.
package store

import (
	"context"
	"fmt"
)

// Message is one entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Display roles used in conversation histories. Histories are read by
// humans on the tenant dashboard, so roles are labels, not API roles.
const (
	RoleUser      = "[Usuário]"
	RoleAttendant = "[Atendente Humano]"
	RoleAgent     = "[Agente]"
)

// AgentRole builds the display role for a named agent.
func AgentRole(name string) string {
	if name == "" {
		return RoleAgent
	}
	return fmt.Sprintf("[%s]", name)
}

// UsageStore accumulates token usage per tenant with monthly resolution.
type UsageStore interface {
	AddTokens(ctx context.Context, tenant string, inputTokens, outputTokens int) error
}

// HistoryStore keeps a capped, human-readable conversation log per user.
type HistoryStore interface {
	Append(ctx context.Context, tenant, user, role, content string) error
	Recent(ctx context.Context, tenant, user string, limit int) ([]Message, error)
}

// Stores bundles the persistence backends picked at startup.
type Stores struct {
	Usage   UsageStore
	History HistoryStore
}
