// Package webhook is the HTTP surface of the gateway: the Evolution API
// posts message and presence events here, and the handlers feed them
// into the buffer pipeline.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBodyBytes caps webhook payloads. Evolution message events are small;
// anything bigger is garbage or abuse.
const maxBodyBytes = 1 << 20

// ReminderRunner triggers one reminder sweep on demand.
type ReminderRunner interface {
	RunOnce(ctx context.Context) error
}

// Server exposes the webhook endpoints.
type Server struct {
	incoming *IncomingService
	reminder ReminderRunner
	limiter  *RateLimiter
	srv      *http.Server
}

// NewServer builds the webhook HTTP server. reminder may be nil when the
// sweep is disabled.
func NewServer(addr string, incoming *IncomingService, reminder ReminderRunner) *Server {
	s := &Server{
		incoming: incoming,
		reminder: reminder,
		limiter:  NewRateLimiter(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /webhook/evolution/messages-upsert", s.handleMessagesUpsert)
	mux.HandleFunc("POST /webhook/evolution/presence-update", s.handlePresenceUpdate)
	mux.HandleFunc("POST /reminder/execute", s.handleReminderExecute)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the underlying handler. Tests only.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving HTTP until the context is cancelled or
// the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessagesUpsert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	m, err := ParseMessageUpsert(body)
	if err != nil {
		slog.Warn("invalid messages-upsert payload", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.limiter.Allow(m.UserPhone) {
		slog.Warn("webhook rate limited", "user", m.UserPhone)
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limited"))
		return
	}

	if err := s.incoming.Handle(r.Context(), m); err != nil {
		slog.Error("incoming message failed", "user", m.UserPhone, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w)
}

func (s *Server) handlePresenceUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := ParsePresenceUpdate(body)
	if err != nil {
		slog.Warn("invalid presence-update payload", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.incoming.HandlePresence(r.Context(), p); err != nil {
		slog.Error("presence update failed", "user", p.UserPhone, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleReminderExecute(w http.ResponseWriter, r *http.Request) {
	if s.reminder == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("reminders disabled"))
		return
	}
	if err := s.reminder.RunOnce(r.Context()); err != nil {
		slog.Error("manual reminder sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w)
}
