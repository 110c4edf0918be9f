// Package attendance tracks human-handoff state: while a human attendant
// owns a conversation the AI stays out of it.
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
)

// deactivatedNotice is sent to the user when the attendant goes quiet and
// the AI takes the conversation back.
const deactivatedNotice = "Atendimento humano desativado por inatividade do atendente. Aguarde um momento..."

// Notifier delivers the reactivation notice. Satisfied by the Evolution
// transport.
type Notifier interface {
	SendText(ctx context.Context, instance, to, text string) error
}

// State is the per-user handoff record.
type State struct {
	Active               bool  `json:"active"`
	LastMessageTimestamp int64 `json:"last_message_timestamp,omitempty"`
}

// Service reads and writes handoff state in the KV store.
type Service struct {
	store             kvstore.Store
	inactivityTimeout time.Duration
	now               func() time.Time
}

// NewService creates the attendance service.
func NewService(store kvstore.Store, inactivityTimeout time.Duration) *Service {
	return &Service{store: store, inactivityTimeout: inactivityTimeout, now: time.Now}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func statePath(tenant, user string) string {
	return fmt.Sprintf("establishments/%s/users/%s/human_attendance", tenant, user)
}

// IsActive reports whether a human attendant currently owns the
// conversation. An attendant idle past the inactivity timeout is
// deactivated on the spot and the user is told the AI is back.
func (s *Service) IsActive(ctx context.Context, notifier Notifier, instance, tenant, user string) (bool, error) {
	var st State
	err := kvstore.GetJSON(ctx, s.store, statePath(tenant, user), &st)
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attendance: read state: %w", err)
	}
	if !st.Active {
		return false, nil
	}

	idle := s.now().Sub(time.Unix(st.LastMessageTimestamp, 0))
	if idle > s.inactivityTimeout {
		if err := s.store.Update(ctx, statePath(tenant, user), map[string]any{"active": false}); err != nil {
			return false, fmt.Errorf("attendance: deactivate: %w", err)
		}
		slog.Warn("human attendance deactivated by inactivity",
			"tenant", tenant, "user", user, "idle", idle)
		if err := notifier.SendText(ctx, instance, user, deactivatedNotice); err != nil {
			slog.Error("attendance notice failed", "user", user, "error", err)
		}
		return false, nil
	}
	return true, nil
}

// Activate hands the conversation to a human attendant.
func (s *Service) Activate(ctx context.Context, tenant, user string) error {
	return s.store.Update(ctx, statePath(tenant, user), map[string]any{
		"active":                 true,
		"last_message_timestamp": s.now().Unix(),
	})
}

// SetActive flips the handoff flag without touching the activity stamp.
func (s *Service) SetActive(ctx context.Context, tenant, user string, active bool) error {
	return s.store.Update(ctx, statePath(tenant, user), map[string]any{"active": active})
}

// Flag returns the raw active flag, ignoring the inactivity timeout.
func (s *Service) Flag(ctx context.Context, tenant, user string) (bool, error) {
	var st State
	err := kvstore.GetJSON(ctx, s.store, statePath(tenant, user), &st)
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Active, nil
}

// TouchAttendant stamps attendant activity, keeping the handoff alive.
func (s *Service) TouchAttendant(ctx context.Context, tenant, user string) error {
	return s.store.Update(ctx, statePath(tenant, user), map[string]any{
		"last_message_timestamp": s.now().Unix(),
	})
}
