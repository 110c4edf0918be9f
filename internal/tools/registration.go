package tools

import (
	"context"
	"encoding/json"
)

// Registration tool names.
const (
	ToolRegisterUser      = "registrar_usuario"
	ToolCheckRegistration = "verificar_cadastro"
)

// RegistrationAPI is the customer registry backend.
type RegistrationAPI interface {
	Register(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
	CheckRegistration(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
}

type registrationHandler struct {
	name string
	call func(ctx context.Context, s Session, args json.RawMessage) (*Result, error)
}

func (h *registrationHandler) Name() string { return h.name }

func (h *registrationHandler) Handle(ctx context.Context, args json.RawMessage) *Result {
	s, ok := SessionFrom(ctx)
	if !ok {
		return Error("Sessão da conversa indisponível.")
	}
	res, err := h.call(ctx, s, args)
	if err != nil {
		return Error("Erro ao acessar o cadastro. Tente novamente.")
	}
	return res
}

// RegistrationHandlers builds the handler pair for a registration backend.
func RegistrationHandlers(api RegistrationAPI) []Handler {
	return []Handler{
		&registrationHandler{ToolRegisterUser, api.Register},
		&registrationHandler{ToolCheckRegistration, api.CheckRegistration},
	}
}
