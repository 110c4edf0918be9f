package tools

import (
	"context"
	"encoding/json"
)

// Calendar tool names, matching the function names declared on the
// tenant's assistants.
const (
	ToolCreateAppointment     = "criar_agendamento"
	ToolCancelAppointment     = "cancelar_agendamento"
	ToolRescheduleAppointment = "reagendar_agendamento"
	ToolCheckAvailability     = "verificar_disponibilidade"
	ToolListAppointments      = "verificar_agendamentos_usuario"
)

// CalendarAPI is the scheduling backend. Slot capacity, work schedules,
// and the self-attendance rules all live behind it; the handlers forward
// the model's arguments untouched.
type CalendarAPI interface {
	CreateAppointment(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
	CancelAppointment(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
	RescheduleAppointment(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
	CheckAvailability(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
	ListAppointments(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
}

type calendarHandler struct {
	name string
	call func(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
}

func (h *calendarHandler) Name() string { return h.name }

func (h *calendarHandler) Handle(ctx context.Context, args json.RawMessage) *Result {
	s, ok := SessionFrom(ctx)
	if !ok {
		return Error("Sessão da conversa indisponível.")
	}
	res, err := h.call(ctx, s, args)
	if err != nil {
		return Error("Erro ao acessar a agenda. Tente novamente.")
	}
	return res
}

// CalendarHandlers builds the handler set for a calendar backend.
func CalendarHandlers(api CalendarAPI) []Handler {
	return []Handler{
		&calendarHandler{ToolCreateAppointment, api.CreateAppointment},
		&calendarHandler{ToolCancelAppointment, api.CancelAppointment},
		&calendarHandler{ToolRescheduleAppointment, api.RescheduleAppointment},
		&calendarHandler{ToolCheckAvailability, api.CheckAvailability},
		&calendarHandler{ToolListAppointments, api.ListAppointments},
	}
}
