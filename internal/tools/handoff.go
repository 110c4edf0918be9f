package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/zapdesk/internal/agents"
	"github.com/nextlevelbuilder/zapdesk/internal/assistant"
	"github.com/nextlevelbuilder/zapdesk/internal/buffer"
)

// Handoff tool names.
const (
	ToolSwitchAgent     = "trocar_agente"
	ToolHumanAttendance = "atendimento_humano"
)

// ClientFactory builds an assistant client with the tenant's API key.
type ClientFactory interface {
	ForTenant(ctx context.Context, tenant string) (*assistant.Client, error)
}

// AttendanceActivator hands a conversation to a human attendant.
type AttendanceActivator interface {
	Activate(ctx context.Context, tenant, user string) error
}

// SwitchAgentHandler moves the conversation to another of the tenant's
// agents: a fresh thread for the target agent, the context summary and a
// greeting seeded into the user's buffer, and the current agent updated.
// The collector picks the seeded buffer up and the new agent speaks first.
type SwitchAgentHandler struct {
	resolver *agents.Resolver
	threads  *agents.Threads
	buffers  *buffer.Service
	clients  ClientFactory
}

// NewSwitchAgentHandler wires the agent-handoff tool.
func NewSwitchAgentHandler(resolver *agents.Resolver, threads *agents.Threads, buffers *buffer.Service, clients ClientFactory) *SwitchAgentHandler {
	return &SwitchAgentHandler{resolver: resolver, threads: threads, buffers: buffers, clients: clients}
}

func (h *SwitchAgentHandler) Name() string { return ToolSwitchAgent }

func (h *SwitchAgentHandler) Handle(ctx context.Context, args json.RawMessage) *Result {
	s, ok := SessionFrom(ctx)
	if !ok {
		return Error("Sessão da conversa indisponível.")
	}

	var req struct {
		AgentID        string `json:"agent_id"`
		ContextSummary string `json:"context_summary"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return Error("Argumentos inválidos para a função.")
	}
	if req.AgentID == "" {
		return Error("Parâmetro 'agent_id' ausente.")
	}
	if req.ContextSummary == "" {
		return Error("Parâmetro 'context_summary' ausente.")
	}

	cfg, err := h.resolver.Get(ctx, s.TenantPhone, req.AgentID)
	if err != nil {
		return Error(fmt.Sprintf("Agente %s não disponível", req.AgentID))
	}

	client, err := h.clients.ForTenant(ctx, s.TenantPhone)
	if err != nil {
		return Error("Erro ao preparar o novo agente.")
	}
	asst, err := client.GetAssistant(ctx, cfg.AssistantID)
	if err != nil {
		return Error("Erro ao preparar o novo agente.")
	}

	hash := agents.HashInstructions(asst.Instructions)
	if _, err := h.threads.CreateNew(ctx, s.TenantPhone, s.UserPhone, req.AgentID, hash, client); err != nil {
		return Error("Erro ao preparar o novo agente.")
	}

	// Seed the buffer so the target agent opens the conversation with the
	// summary in context.
	summary := "⚠️ CONTEXTO AUTOMÁTICO: " + req.ContextSummary
	if err := h.buffers.Append(ctx, s.TenantPhone, s.UserPhone, s.InstanceName, summary); err != nil {
		return Error("Erro ao transferir a conversa.")
	}
	if err := h.buffers.Append(ctx, s.TenantPhone, s.UserPhone, s.InstanceName, "Olá"); err != nil {
		return Error("Erro ao transferir a conversa.")
	}

	if err := h.resolver.SetCurrent(ctx, s.TenantPhone, s.UserPhone, req.AgentID); err != nil {
		return Error("Erro ao transferir a conversa.")
	}

	slog.Info("agent handoff", "tenant", s.TenantPhone, "user", s.UserPhone, "to", req.AgentID)
	return Success("Troca de agente concluída com sucesso")
}

// HumanAttendanceHandler activates human attendance for the conversation.
type HumanAttendanceHandler struct {
	attendance AttendanceActivator
}

// NewHumanAttendanceHandler wires the human-handoff tool.
func NewHumanAttendanceHandler(attendance AttendanceActivator) *HumanAttendanceHandler {
	return &HumanAttendanceHandler{attendance: attendance}
}

func (h *HumanAttendanceHandler) Name() string { return ToolHumanAttendance }

func (h *HumanAttendanceHandler) Handle(ctx context.Context, _ json.RawMessage) *Result {
	s, ok := SessionFrom(ctx)
	if !ok {
		return Error("Sessão da conversa indisponível.")
	}
	if err := h.attendance.Activate(ctx, s.TenantPhone, s.UserPhone); err != nil {
		return Error("Erro ao iniciar o atendimento humano.")
	}
	slog.Info("human attendance started", "tenant", s.TenantPhone, "user", s.UserPhone)
	return Success("Atendimento humano iniciado com sucesso")
}
