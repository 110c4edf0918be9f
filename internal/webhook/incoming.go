package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/zapdesk/internal/attendance"
	"github.com/nextlevelbuilder/zapdesk/internal/buffer"
	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
	"github.com/nextlevelbuilder/zapdesk/internal/store"
)

const (
	tooLongReply = "Opa! Sua mensagem é muito longa para processarmos de uma vez. " +
		"Por favor, divida sua mensagem em partes menores ou seja mais específico. " +
		"Isso nos ajuda a atendê-lo melhor e mais rapidamente."
	resetReply = "Contexto resetado com sucesso."
)

// Messenger is the transport surface the incoming pipeline needs.
type Messenger interface {
	SendText(ctx context.Context, instance, to, text string) error
	MarkRead(ctx context.Context, instance, remoteJid, messageID string) error
}

// IncomingService routes webhook messages into buffers, history, and the
// human-attendance state machine. Nothing here talks to the AI; the
// collector does that later.
type IncomingService struct {
	kv         kvstore.Store
	buffers    *buffer.Service
	attendance *attendance.Service
	history    store.HistoryStore
	messenger  Messenger
	maxChars   int
}

// NewIncomingService wires the inbound pipeline.
func NewIncomingService(kv kvstore.Store, buffers *buffer.Service, att *attendance.Service, history store.HistoryStore, messenger Messenger, maxChars int) *IncomingService {
	return &IncomingService{
		kv:         kv,
		buffers:    buffers,
		attendance: att,
		history:    history,
		messenger:  messenger,
		maxChars:   maxChars,
	}
}

// Handle runs one inbound message through the pipeline.
func (s *IncomingService) Handle(ctx context.Context, m *IncomingMessage) error {
	log := slog.With("instance", m.InstanceName, "from", m.Identification())

	if m.Text == "" {
		log.Warn("empty or unsupported message dropped", "type", m.MessageType)
		return nil
	}

	blocked, err := s.areaCodeBlocked(ctx, m)
	if err != nil {
		return err
	}
	if blocked {
		log.Warn("message from unpermitted area code dropped", "area_code", m.AreaCode())
		return nil
	}

	switch {
	case len(m.Text) > s.maxChars:
		log.Warn("message too long", "chars", len(m.Text))
		return s.messenger.SendText(ctx, m.InstanceName, m.UserPhone, tooLongReply)

	case strings.EqualFold(m.Text, "reset"):
		return s.resetContext(ctx, m, log)

	case m.FromMe:
		if !m.IsAdmin() {
			return s.handleAttendantMessage(ctx, m, log)
		}
		// Admin self-chat goes through the buffer like any user turn.
		return s.buffers.Append(ctx, m.TenantPhone, m.UserPhone, m.InstanceName, m.Text)
	}

	active, err := s.attendance.IsActive(ctx, s.messenger, m.InstanceName, m.TenantPhone, m.UserPhone)
	if err != nil {
		return err
	}
	if active {
		// A human owns the conversation; just keep the log.
		return s.history.Append(ctx, m.TenantPhone, m.UserPhone, store.RoleUser, m.Text)
	}

	if err := s.messenger.MarkRead(ctx, m.InstanceName, m.RemoteJid, m.MessageID); err != nil {
		log.Warn("mark read failed", "error", err)
	}
	if err := s.buffers.Append(ctx, m.TenantPhone, m.UserPhone, m.InstanceName, m.Text); err != nil {
		return err
	}
	return s.history.Append(ctx, m.TenantPhone, m.UserPhone, store.RoleUser, m.Text)
}

// HandlePresence records a presence observation, but only for users with
// a pending buffer; presence alone never creates one.
func (s *IncomingService) HandlePresence(ctx context.Context, p *PresenceUpdate) error {
	if _, err := s.buffers.Get(ctx, p.UserPhone); err == kvstore.ErrNotFound {
		slog.Debug("presence for user without buffer", "user", p.UserPhone)
		return nil
	} else if err != nil {
		return err
	}
	return s.buffers.UpdatePresence(ctx, p.UserPhone, buffer.Presence(p.Presence))
}

// areaCodeBlocked checks the tenant's allowed area codes, when set.
func (s *IncomingService) areaCodeBlocked(ctx context.Context, m *IncomingMessage) (bool, error) {
	var cfg struct {
		AllowedPhoneAreaCodes []string `json:"allowed_phone_area_codes"`
	}
	path := fmt.Sprintf("establishments/%s/config", m.TenantPhone)
	err := kvstore.GetJSON(ctx, s.kv, path, &cfg)
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("webhook: tenant config: %w", err)
	}
	if len(cfg.AllowedPhoneAreaCodes) == 0 {
		return false, nil
	}

	code := m.AreaCode()
	for _, allowed := range cfg.AllowedPhoneAreaCodes {
		if allowed == code {
			return false, nil
		}
	}
	return true, nil
}

// resetContext wipes the user's tenant state and pending buffer. A
// debugging escape hatch, triggered by the literal message "reset".
func (s *IncomingService) resetContext(ctx context.Context, m *IncomingMessage, log *slog.Logger) error {
	userPath := fmt.Sprintf("establishments/%s/users/%s", m.TenantPhone, m.UserPhone)
	if _, err := s.kv.Delete(ctx, userPath); err != nil {
		return fmt.Errorf("webhook: reset user: %w", err)
	}
	if _, err := s.buffers.Clear(ctx, m.UserPhone); err != nil {
		return fmt.Errorf("webhook: reset buffer: %w", err)
	}
	log.Warn("context reset")
	return s.messenger.SendText(ctx, m.InstanceName, m.UserPhone, resetReply)
}

// handleAttendantMessage processes a from_me message typed by a human
// attendant on the tenant's phone. The 🤖 marker toggles the AI for this
// conversation; everything else just stamps activity and logs.
func (s *IncomingService) handleAttendantMessage(ctx context.Context, m *IncomingMessage, log *slog.Logger) error {
	if err := s.attendance.TouchAttendant(ctx, m.TenantPhone, m.UserPhone); err != nil {
		return err
	}

	if strings.Contains(strings.TrimSpace(m.Text), "🤖") {
		active, err := s.attendance.Flag(ctx, m.TenantPhone, m.UserPhone)
		if err != nil {
			return err
		}
		state := "reativada"
		if !active {
			state = "desativada"
		}
		notice := fmt.Sprintf("🤖 IA %s manualmente.", state)
		log.Warn("attendant toggled AI", "now_active", active)
		if err := s.messenger.SendText(ctx, m.InstanceName, m.UserPhone, notice); err != nil {
			log.Warn("toggle notice failed", "error", err)
		}
		if err := s.attendance.SetActive(ctx, m.TenantPhone, m.UserPhone, !active); err != nil {
			return err
		}
		if err := s.history.Append(ctx, m.TenantPhone, m.UserPhone, store.RoleAgent, notice); err != nil {
			return err
		}
	}
	return s.history.Append(ctx, m.TenantPhone, m.UserPhone, store.RoleAttendant, m.Text)
}
