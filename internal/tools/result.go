// Package tools implements the dispatcher for mid-run tool calls: a
// registry of named handlers, each decoding its own JSON arguments and
// returning a serialized result the model can read.
package tools

import (
	"encoding/json"
	"log/slog"
)

// Result is the unified payload returned to the model for a tool call.
// Handler failures are results too, never transport errors: the model
// decides how to tell the user.
type Result struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Success builds a success result.
func Success(message string) *Result {
	return &Result{Status: "success", Message: message}
}

// SuccessData builds a success result carrying structured data.
func SuccessData(message string, data map[string]any) *Result {
	return &Result{Status: "success", Message: message, Data: data}
}

// Error builds an error result.
func Error(message string) *Result {
	slog.Warn("tool error result", "message", message)
	return &Result{Status: "error", Message: message}
}

// Encode serializes the result for submission.
func (r *Result) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"status":"error","message":"internal serialization failure"}`
	}
	return string(data)
}
