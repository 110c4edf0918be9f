package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/zapdesk/internal/assistant"
)

// Handler executes one named tool. Args arrive as the raw JSON the model
// produced; each handler owns its own decoding.
type Handler interface {
	Name() string
	Handle(ctx context.Context, args json.RawMessage) *Result
}

// Registry maps tool names to handlers and implements the orchestrator's
// dispatcher.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates a registry over the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Dispatch resolves one tool call to its serialized output. It always
// produces an output: unknown tools, malformed arguments, and handler
// panics all come back as encoded error results so the run can continue.
func (r *Registry) Dispatch(ctx context.Context, call assistant.ToolCall) (output string) {
	name := call.Function.Name
	log := slog.With("tool", name, "call_id", call.ID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("tool handler panic", "panic", rec)
			output = Error("Erro ao executar a função").Encode()
		}
	}()

	h, ok := r.handlers[name]
	if !ok {
		log.Warn("unsupported tool requested")
		return Error(fmt.Sprintf("Tool '%s' not supported.", name)).Encode()
	}

	args := json.RawMessage(call.Function.Arguments)
	if len(args) > 0 && !json.Valid(args) {
		log.Warn("malformed tool arguments")
		return Error("Argumentos inválidos para a função.").Encode()
	}

	return h.Handle(ctx, args).Encode()
}
