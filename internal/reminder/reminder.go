// Package reminder runs the next-day appointment reminder sweep: once a
// day (cron-scheduled) every tenant's upcoming appointments are listed
// from the calendar service and each user gets a WhatsApp nudge.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
	"github.com/nextlevelbuilder/zapdesk/internal/transport"
)

// Calendar is the slice of the calendar service the sweep needs.
// Satisfied by transport.CalendarClient.
type Calendar interface {
	NextDayAppointments(ctx context.Context, tenant string) ([]transport.Appointment, error)
	MarkReminderSent(ctx context.Context, appointmentID string) error
}

// Messenger delivers the reminder text.
type Messenger interface {
	SendText(ctx context.Context, instance, to, text string) error
}

// Service sweeps tenants for next-day appointments on a cron schedule.
type Service struct {
	kv        kvstore.Store
	calendar  Calendar
	messenger Messenger
	cronExpr  string
	gron      *gronx.Gronx
	now       func() time.Time
}

// New builds the sweep service. The cron expression is validated up
// front so a bad schedule fails at startup, not at nine in the morning.
func New(kv kvstore.Store, calendar Calendar, messenger Messenger, cronExpr string) (*Service, error) {
	gron := gronx.New()
	if !gron.IsValid(cronExpr) {
		return nil, fmt.Errorf("reminder: invalid cron expression %q", cronExpr)
	}
	return &Service{
		kv:        kv,
		calendar:  calendar,
		messenger: messenger,
		cronExpr:  cronExpr,
		gron:      gron,
		now:       time.Now,
	}, nil
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start runs the schedule loop until the context is cancelled. Ticks
// once a minute and fires when the cron expression is due.
func (s *Service) Start(ctx context.Context) {
	slog.Info("reminder sweep scheduled", "cron", s.cronExpr)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.gron.IsDue(s.cronExpr, s.now())
			if err != nil {
				slog.Error("reminder schedule check failed", "error", err)
				continue
			}
			if !due {
				continue
			}
			if err := s.RunOnce(ctx); err != nil {
				slog.Error("reminder sweep failed", "error", err)
			}
		}
	}
}

// RunOnce sweeps every tenant immediately. Also reachable through the
// manual /reminder/execute endpoint.
func (s *Service) RunOnce(ctx context.Context) error {
	tenants, err := s.tenants(ctx)
	if err != nil {
		return err
	}
	slog.Info("reminder sweep started", "tenants", len(tenants))

	var failures int
	for _, tenant := range tenants {
		if err := s.sweepTenant(ctx, tenant); err != nil {
			slog.Error("tenant sweep failed", "tenant", tenant, "error", err)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("reminder: %d of %d tenants failed", failures, len(tenants))
	}
	return nil
}

func (s *Service) sweepTenant(ctx context.Context, tenant string) error {
	instance, err := s.instanceName(ctx, tenant)
	if err != nil {
		return err
	}
	if instance == "" {
		slog.Debug("tenant has no instance, skipping", "tenant", tenant)
		return nil
	}

	appointments, err := s.calendar.NextDayAppointments(ctx, tenant)
	if err != nil {
		return err
	}

	for _, appt := range appointments {
		if appt.ReminderSent {
			continue
		}
		if err := s.messenger.SendText(ctx, instance, appt.UserPhone, reminderText(appt)); err != nil {
			slog.Error("reminder delivery failed",
				"tenant", tenant, "user", appt.UserPhone, "appointment", appt.ID, "error", err)
			continue
		}
		if err := s.calendar.MarkReminderSent(ctx, appt.ID); err != nil {
			slog.Error("reminder flag failed", "appointment", appt.ID, "error", err)
		}
	}
	return nil
}

// tenants lists every establishment key in the store.
func (s *Service) tenants(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, "establishments")
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reminder: list tenants: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("reminder: decode tenants: %w", err)
	}
	tenants := make([]string, 0, len(all))
	for tenant := range all {
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

// instanceName resolves the tenant's WhatsApp instance from its config.
func (s *Service) instanceName(ctx context.Context, tenant string) (string, error) {
	var cfg struct {
		InstanceName string `json:"instance_name"`
	}
	err := kvstore.GetJSON(ctx, s.kv, "establishments/"+tenant+"/config", &cfg)
	if err == kvstore.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reminder: tenant config: %w", err)
	}
	return cfg.InstanceName, nil
}

func reminderText(a transport.Appointment) string {
	text := fmt.Sprintf("🔔 Lembrete: você tem um agendamento amanhã, dia %s às %s", a.Date, a.Time)
	if a.Procedure != "" {
		text += fmt.Sprintf(" (%s", a.Procedure)
		if a.ProfessionalName != "" {
			text += " com " + a.ProfessionalName
		}
		text += ")"
	} else if a.ProfessionalName != "" {
		text += " com " + a.ProfessionalName
	}
	return text + ". Caso precise remarcar ou cancelar, é só me avisar por aqui."
}
