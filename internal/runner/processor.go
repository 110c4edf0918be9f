// Package runner turns a flushed message buffer into an assistant reply:
// agent resolution, thread selection, context injection, the run itself,
// and the accounting around it.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/zapdesk/internal/agents"
	"github.com/nextlevelbuilder/zapdesk/internal/assistant"
	"github.com/nextlevelbuilder/zapdesk/internal/buffer"
	"github.com/nextlevelbuilder/zapdesk/internal/store"
	"github.com/nextlevelbuilder/zapdesk/internal/tools"
)

// noAgentReply is sent when the tenant has no agent that can answer the
// conversation.
const noAgentReply = "*_Sistema_*: Nenhum agente disponível no momento."

// Options carries the run lifecycle tuning forwarded to the orchestrator.
type Options struct {
	OpenAIBaseURL string
	PollInterval  time.Duration
	RetryBackoff  time.Duration
	MaxPolls      int
	MaxAttempts   int
}

// Processor implements buffer.Handler: it owns the whole turn between a
// flushed buffer and the text the transport will deliver.
type Processor struct {
	resolver *agents.Resolver
	threads  *agents.Threads
	registry *tools.Registry
	stores   *store.Stores
	opts     Options
	now      func() time.Time
}

// NewProcessor wires the message pipeline.
func NewProcessor(resolver *agents.Resolver, threads *agents.Threads, registry *tools.Registry, stores *store.Stores, opts Options) *Processor {
	return &Processor{
		resolver: resolver,
		threads:  threads,
		registry: registry,
		stores:   stores,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock overrides the processor clock. Tests only.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// ForTenant builds an assistant client with the tenant's API key. Also
// serves the tool handlers that need one mid-run.
func (p *Processor) ForTenant(ctx context.Context, tenant string) (*assistant.Client, error) {
	key, err := p.resolver.APIKey(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return assistant.NewClient(p.opts.OpenAIBaseURL, key), nil
}

// HandleFlush processes one coalesced user turn and returns the reply,
// prefixed with the answering agent's display name.
func (p *Processor) HandleFlush(ctx context.Context, f buffer.Flush) (string, error) {
	ctx, span := otel.Tracer("runner").Start(ctx, "handle_flush",
		oteltrace.WithAttributes(
			attribute.String("tenant", f.TenantPhone),
			attribute.String("user", f.UserPhone),
		))
	defer span.End()

	ctx = tools.WithSession(ctx, tools.Session{
		TenantPhone:  f.TenantPhone,
		UserPhone:    f.UserPhone,
		InstanceName: f.InstanceName,
	})
	log := slog.With("tenant", f.TenantPhone, "user", f.UserPhone)

	agentID, err := p.resolver.Resolve(ctx, f.TenantPhone, f.UserPhone)
	if err != nil {
		return "", fmt.Errorf("runner: resolve agent: %w", err)
	}
	if agentID == "" {
		log.Warn("no agent available for conversation")
		return noAgentReply, nil
	}
	if err := p.resolver.TouchAgentUsed(ctx, f.TenantPhone, f.UserPhone, agentID); err != nil {
		return "", fmt.Errorf("runner: touch agent: %w", err)
	}

	agentCfg, err := p.resolver.Get(ctx, f.TenantPhone, agentID)
	if err != nil {
		return "", fmt.Errorf("runner: agent config %s: %w", agentID, err)
	}

	client, err := p.ForTenant(ctx, f.TenantPhone)
	if err != nil {
		return "", fmt.Errorf("runner: %w", err)
	}

	asst, err := client.GetAssistant(ctx, agentCfg.AssistantID)
	if err != nil {
		return "", fmt.Errorf("runner: assistant %s: %w", agentCfg.AssistantID, err)
	}

	threadID, err := p.threads.ThreadID(ctx, f.TenantPhone, f.UserPhone, agentID,
		agents.HashInstructions(asst.Instructions), client)
	if err != nil {
		return "", fmt.Errorf("runner: %w", err)
	}

	if err := client.AddMessage(ctx, threadID, "user", p.contextMessage(f)); err != nil {
		return "", fmt.Errorf("runner: add context: %w", err)
	}
	if err := client.AddMessage(ctx, threadID, "user", f.Text); err != nil {
		return "", fmt.Errorf("runner: add message: %w", err)
	}

	orch := assistant.NewOrchestrator(client, p.registry, assistant.OrchestratorOptions{
		PollInterval: p.opts.PollInterval,
		RetryBackoff: p.opts.RetryBackoff,
		MaxPolls:     p.opts.MaxPolls,
		MaxAttempts:  p.opts.MaxAttempts,
	})
	res, err := orch.Execute(ctx, threadID, agentCfg.AssistantID, "")
	if err != nil {
		return "", fmt.Errorf("runner: %w", err)
	}

	// Accounting never blocks the reply.
	if err := p.stores.Usage.AddTokens(ctx, f.TenantPhone, res.Usage.PromptTokens, res.Usage.CompletionTokens); err != nil {
		log.Error("usage accounting failed", "error", err)
	}
	agentName := agentCfg.Name
	if agentName == "" {
		agentName = asst.Name
	}
	if err := p.stores.History.Append(ctx, f.TenantPhone, f.UserPhone, store.AgentRole(agentName), res.Reply); err != nil {
		log.Error("history append failed", "error", err)
	}

	log.Info("turn processed", "agent", agentID, "attempts", res.Attempts, "tokens", res.Usage.TotalTokens)
	return fmt.Sprintf("*_%s_*: %s", agentName, res.Reply), nil
}

// contextMessage builds the auxiliary context the assistant gets before
// every user turn: today's date and, outside self-chat, the user's phone.
func (p *Processor) contextMessage(f buffer.Flush) string {
	msg := "⚠️ CONTEXTO AUXILIAR: Hoje é " + formatDatePT(p.now())
	if f.UserPhone != f.TenantPhone {
		msg += "\nO número do telefone do usuário é " + f.UserPhone + "."
	}
	return msg
}

var (
	weekdaysPT = [...]string{"Domingo", "Segunda-feira", "Terça-feira", "Quarta-feira", "Quinta-feira", "Sexta-feira", "Sábado"}
	monthsPT   = [...]string{"janeiro", "fevereiro", "março", "abril", "maio", "junho", "julho", "agosto", "setembro", "outubro", "novembro", "dezembro"}
)

func formatDatePT(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d", weekdaysPT[t.Weekday()], t.Day(), monthsPT[t.Month()-1], t.Year())
}
