package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/agents"
	"github.com/nextlevelbuilder/zapdesk/internal/buffer"
	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
	"github.com/nextlevelbuilder/zapdesk/internal/store"
	"github.com/nextlevelbuilder/zapdesk/internal/tools"
)

const (
	tenant = "5511999990000"
	user   = "5511888880000"
)

// assistantStub fakes the Assistants API far enough for a full turn:
// retrieve assistant, create thread, add messages, run to completion,
// list messages.
func assistantStub(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var added []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/assistants/asst_1":
			json.NewEncoder(w).Encode(map[string]string{
				"id": "asst_1", "name": "Clara", "instructions": "Você agenda consultas.",
			})
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/messages":
			var body struct {
				Content string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			added = append(added, body.Content)
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{"id": "msg_x"})
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
			json.NewEncoder(w).Encode(map[string]any{
				"id": "run_1", "thread_id": "thread_1", "status": "completed",
				"usage": map[string]int{"prompt_tokens": 200, "completion_tokens": 40, "total_tokens": 240},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/messages":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{
					"role": "assistant",
					"content": []map[string]any{{
						"type": "text",
						"text": map[string]string{"value": "Oi! Posso agendar para amanhã às 10h."},
					}},
				}},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &added
}

func newTestProcessor(t *testing.T, kv kvstore.Store, baseURL string) (*Processor, *store.Stores) {
	t.Helper()
	stores := &store.Stores{
		Usage:   store.NewKVUsage(kv),
		History: store.NewKVHistory(kv),
	}
	resolver := agents.NewResolver(kv, 5*time.Hour)
	threads := agents.NewThreads(kv, 10*time.Minute)
	p := NewProcessor(resolver, threads, tools.NewRegistry(), stores, Options{
		OpenAIBaseURL: baseURL,
		PollInterval:  time.Millisecond,
		RetryBackoff:  time.Millisecond,
		MaxPolls:      60,
		MaxAttempts:   4,
	})
	return p, stores
}

func TestHandleFlushFullTurn(t *testing.T) {
	ctx := context.Background()
	srv, added := assistantStub(t)
	kv := kvstore.NewMemoryStore()

	if err := kv.Set(ctx, agents.AgentPath(tenant, agents.MainAgent),
		agents.Config{AssistantID: "asst_1", Name: "Clara"}); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(ctx, "establishments/"+tenant+"/openai_key", "sk-tenant"); err != nil {
		t.Fatal(err)
	}

	p, stores := newTestProcessor(t, kv, srv.URL)
	now := time.Date(2026, time.August, 28, 14, 0, 0, 0, time.UTC)
	p.WithClock(func() time.Time { return now })

	reply, err := p.HandleFlush(ctx, buffer.Flush{
		UserPhone:    user,
		TenantPhone:  tenant,
		InstanceName: "clinic-main",
		Text:         "Quero marcar uma consulta. Pode ser amanhã",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "*_Clara_*: Oi! Posso agendar para amanhã às 10h." {
		t.Errorf("reply = %q", reply)
	}

	// Context message then the user turn.
	msgs := *added
	if len(msgs) != 2 {
		t.Fatalf("messages added = %v", msgs)
	}
	if !strings.Contains(msgs[0], "CONTEXTO AUXILIAR") || !strings.Contains(msgs[0], "28 de agosto de 2026") {
		t.Errorf("context message = %q", msgs[0])
	}
	if !strings.Contains(msgs[0], user) {
		t.Errorf("context message missing user phone: %q", msgs[0])
	}
	if msgs[1] != "Quero marcar uma consulta. Pode ser amanhã" {
		t.Errorf("user message = %q", msgs[1])
	}

	// Usage rolled up and history appended.
	var rec struct {
		TokensInput  int `json:"tokens_input"`
		TokensOutput int `json:"tokens_output"`
	}
	if err := kvstore.GetJSON(ctx, kv, "establishments/"+tenant+"/usage/"+now.Format("2006-01"), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.TokensInput != 200 || rec.TokensOutput != 40 {
		t.Errorf("usage = %+v", rec)
	}
	hist, err := stores.History.Recent(ctx, tenant, user, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Role != "[Clara]" {
		t.Errorf("history = %+v", hist)
	}

	// Agent stickiness stamped.
	var info agents.ThreadInfo
	if err := kvstore.GetJSON(ctx, kv, agents.ThreadPath(tenant, user, agents.MainAgent), &info); err != nil {
		t.Fatal(err)
	}
	if info.AgentLastUsedAt == 0 {
		t.Error("agent_last_used_at not stamped")
	}
}

func TestHandleFlushNoAgent(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	p, _ := newTestProcessor(t, kv, "http://unused.invalid")

	// Tenant self-chat with no admin agent configured.
	reply, err := p.HandleFlush(ctx, buffer.Flush{
		UserPhone:    tenant,
		TenantPhone:  tenant,
		InstanceName: "clinic-main",
		Text:         "status",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "Nenhum agente disponível") {
		t.Errorf("reply = %q", reply)
	}
}

func TestFormatDatePT(t *testing.T) {
	d := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC) // a Sunday
	if got := formatDatePT(d); got != "Domingo, 1 de março de 2026" {
		t.Errorf("formatDatePT = %q", got)
	}
}
