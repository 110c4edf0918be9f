package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type capturedRequest struct {
	path   string
	apiKey string
	body   map[string]any
}

func newCaptureServer(t *testing.T) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad body: %v", err)
		}
		mu.Lock()
		captured = append(captured, capturedRequest{
			path:   r.URL.Path,
			apiKey: r.Header.Get("apikey"),
			body:   body,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestSendTextNormalizesJid(t *testing.T) {
	srv, captured := newCaptureServer(t)
	e := NewEvolution(srv.URL, "test-key", 1200, 100)

	if err := e.SendText(context.Background(), "clinic-main", "5511888880000@s.whatsapp.net", "olá"); err != nil {
		t.Fatal(err)
	}

	reqs := *captured
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	req := reqs[0]
	if req.path != "/message/sendText/clinic-main" {
		t.Errorf("path = %q", req.path)
	}
	if req.apiKey != "test-key" {
		t.Errorf("apikey header = %q", req.apiKey)
	}
	if req.body["number"] != "5511888880000" {
		t.Errorf("number = %v, want jid suffix stripped", req.body["number"])
	}
	opts, _ := req.body["options"].(map[string]any)
	if opts["delay"] != float64(1200) {
		t.Errorf("delay = %v", opts["delay"])
	}
	if req.body["text"] != "olá" {
		t.Errorf("text = %v", req.body["text"])
	}
}

func TestSendTypingPayload(t *testing.T) {
	srv, captured := newCaptureServer(t)
	e := NewEvolution(srv.URL, "k", 1200, 100)

	e.SendTyping(context.Background(), "inst", "5511888880000")

	reqs := *captured
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	req := reqs[0]
	if req.path != "/chat/sendPresence/inst" {
		t.Errorf("path = %q", req.path)
	}
	if req.body["presence"] != "composing" {
		t.Errorf("presence = %v", req.body["presence"])
	}
}

func TestMarkRead(t *testing.T) {
	srv, captured := newCaptureServer(t)
	e := NewEvolution(srv.URL, "k", 1200, 100)

	if err := e.MarkRead(context.Background(), "inst", "5511888880000@s.whatsapp.net", "MSG123"); err != nil {
		t.Fatal(err)
	}

	reqs := *captured
	req := reqs[0]
	if req.path != "/chat/markMessageAsRead/inst" {
		t.Errorf("path = %q", req.path)
	}
	msgs, _ := req.body["readMessages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("readMessages = %v", req.body["readMessages"])
	}
	entry, _ := msgs[0].(map[string]any)
	if entry["id"] != "MSG123" || entry["fromMe"] != false {
		t.Errorf("entry = %v", entry)
	}
	// remoteJid keeps the full jid; only send targets are normalized.
	if entry["remoteJid"] != "5511888880000@s.whatsapp.net" {
		t.Errorf("remoteJid = %v", entry["remoteJid"])
	}
}

func TestSendTextErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "instance not connected", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	e := NewEvolution(srv.URL, "k", 1200, 100)

	if err := e.SendText(context.Background(), "inst", "user", "hi"); err == nil {
		t.Fatal("expected error on 400")
	}
}
