package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"
)

type stubReminder struct {
	calls int
	err   error
}

func (s *stubReminder) RunOnce(context.Context) error {
	s.calls++
	return s.err
}

func doPost(t *testing.T, srv *Server, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerRoutes(t *testing.T) {
	p := newPipeline(t)
	reminder := &stubReminder{}
	srv := NewServer(":0", p.svc, reminder)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("health = %d", rec.Code)
	}

	rec = doPost(t, srv, "/webhook/evolution/messages-upsert",
		upsertPayload("conversation", `{"conversation": "oi"}`, user+"@s.whatsapp.net", false))
	if rec.Code != 200 {
		t.Fatalf("upsert = %d body = %s", rec.Code, rec.Body)
	}
	if _, err := p.buffers.Get(context.Background(), user); err != nil {
		t.Errorf("message not buffered: %v", err)
	}

	rec = doPost(t, srv, "/webhook/evolution/messages-upsert", []byte(`{"instance": "x"}`))
	if rec.Code != 400 {
		t.Errorf("malformed upsert = %d", rec.Code)
	}

	rec = doPost(t, srv, "/webhook/evolution/presence-update", []byte(`{
		"data": {"presences": {"`+user+`@s.whatsapp.net": {"lastKnownPresence": "composing"}}}
	}`))
	if rec.Code != 200 {
		t.Errorf("presence = %d body = %s", rec.Code, rec.Body)
	}

	rec = doPost(t, srv, "/reminder/execute", nil)
	if rec.Code != 200 || reminder.calls != 1 {
		t.Errorf("reminder = %d calls = %d", rec.Code, reminder.calls)
	}

	reminder.err = errors.New("sweep failed")
	rec = doPost(t, srv, "/reminder/execute", nil)
	if rec.Code != 500 {
		t.Errorf("failing reminder = %d", rec.Code)
	}
}

func TestServerReminderDisabled(t *testing.T) {
	p := newPipeline(t)
	srv := NewServer(":0", p.svc, nil)

	rec := doPost(t, srv, "/reminder/execute", nil)
	if rec.Code != 404 {
		t.Errorf("disabled reminder = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < rateLimitMaxHits; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d denied within limit", i)
		}
	}
	if rl.Allow("u1") {
		t.Error("request above limit allowed")
	}
	if !rl.Allow("u2") {
		t.Error("independent key denied")
	}
}
