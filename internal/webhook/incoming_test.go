package webhook

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/attendance"
	"github.com/nextlevelbuilder/zapdesk/internal/buffer"
	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
	"github.com/nextlevelbuilder/zapdesk/internal/store"
)

const (
	tenant = "5511999990000"
	user   = "5511888880000"
)

type fakeMessenger struct {
	sent     []string
	markedID []string
}

func (f *fakeMessenger) SendText(_ context.Context, _, _, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeMessenger) MarkRead(_ context.Context, _, _, messageID string) error {
	f.markedID = append(f.markedID, messageID)
	return nil
}

type pipeline struct {
	kv        *kvstore.MemoryStore
	buffers   *buffer.Service
	att       *attendance.Service
	history   store.HistoryStore
	messenger *fakeMessenger
	svc       *IncomingService
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	p := &pipeline{
		kv:        kv,
		buffers:   buffer.NewService(kv, "replica-a"),
		att:       attendance.NewService(kv, 15*time.Minute),
		history:   store.NewKVHistory(kv),
		messenger: &fakeMessenger{},
	}
	p.svc = NewIncomingService(kv, p.buffers, p.att, p.history, p.messenger, 500)
	return p
}

func msg(text string, fromMe bool) *IncomingMessage {
	return &IncomingMessage{
		InstanceName: "clinic-main",
		TenantPhone:  tenant,
		UserPhone:    user,
		RemoteJid:    user + "@s.whatsapp.net",
		MessageID:    "MSG1",
		PushName:     "João",
		MessageType:  "conversation",
		FromMe:       fromMe,
		Text:         text,
	}
}

func TestHandleUserMessage(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	if err := p.svc.Handle(ctx, msg("quero agendar", false)); err != nil {
		t.Fatal(err)
	}

	buf, err := p.buffers.Get(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf.Messages) != 1 || buf.Messages[0] != "quero agendar" {
		t.Errorf("buffer = %v", buf.Messages)
	}
	if len(p.messenger.markedID) != 1 || p.messenger.markedID[0] != "MSG1" {
		t.Errorf("marked read = %v", p.messenger.markedID)
	}

	hist, err := p.history.Recent(ctx, tenant, user, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Role != store.RoleUser {
		t.Errorf("history = %+v", hist)
	}
}

func TestHandleEmptyAndTooLong(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	if err := p.svc.Handle(ctx, msg("", false)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.buffers.Get(ctx, user); err != kvstore.ErrNotFound {
		t.Error("empty message must not create a buffer")
	}

	long := strings.Repeat("a", 501)
	if err := p.svc.Handle(ctx, msg(long, false)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.buffers.Get(ctx, user); err != kvstore.ErrNotFound {
		t.Error("oversized message must not reach the buffer")
	}
	if len(p.messenger.sent) != 1 || !strings.Contains(p.messenger.sent[0], "muito longa") {
		t.Errorf("sent = %v", p.messenger.sent)
	}
}

func TestHandleReset(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	if err := p.kv.Set(ctx, "establishments/"+tenant+"/users/"+user+"/current_agent", "support_agent"); err != nil {
		t.Fatal(err)
	}
	if err := p.buffers.Append(ctx, tenant, user, "clinic-main", "pending"); err != nil {
		t.Fatal(err)
	}

	if err := p.svc.Handle(ctx, msg("Reset", false)); err != nil {
		t.Fatal(err)
	}

	if _, err := p.buffers.Get(ctx, user); err != kvstore.ErrNotFound {
		t.Error("buffer survived reset")
	}
	if v, _ := kvstore.GetString(ctx, p.kv, "establishments/"+tenant+"/users/"+user+"/current_agent"); v != "" {
		t.Error("user state survived reset")
	}
	if len(p.messenger.sent) != 1 || p.messenger.sent[0] != resetReply {
		t.Errorf("sent = %v", p.messenger.sent)
	}
}

func TestHandleDuringHumanAttendance(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	if err := p.att.Activate(ctx, tenant, user); err != nil {
		t.Fatal(err)
	}

	if err := p.svc.Handle(ctx, msg("ainda estou esperando", false)); err != nil {
		t.Fatal(err)
	}

	// Logged but never buffered: the AI stays silent.
	if _, err := p.buffers.Get(ctx, user); err != kvstore.ErrNotFound {
		t.Error("message buffered during human attendance")
	}
	hist, _ := p.history.Recent(ctx, tenant, user, 0)
	if len(hist) != 1 {
		t.Errorf("history = %+v", hist)
	}
}

func TestHandleAttendantToggle(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	m := msg("🤖", true)
	m.UserPhone = user // attendant writing in the user's chat

	if err := p.svc.Handle(ctx, m); err != nil {
		t.Fatal(err)
	}

	// AI was on (attendance inactive), the toggle hands the chat to the
	// human and says the AI is off.
	active, err := p.att.Flag(ctx, tenant, user)
	if err != nil || !active {
		t.Errorf("attendance active = %v err = %v", active, err)
	}
	if len(p.messenger.sent) != 1 || !strings.Contains(p.messenger.sent[0], "desativada") {
		t.Errorf("sent = %v", p.messenger.sent)
	}

	// Second toggle brings the AI back.
	if err := p.svc.Handle(ctx, m); err != nil {
		t.Fatal(err)
	}
	active, _ = p.att.Flag(ctx, tenant, user)
	if active {
		t.Error("attendance still active after second toggle")
	}
	if len(p.messenger.sent) != 2 || !strings.Contains(p.messenger.sent[1], "reativada") {
		t.Errorf("sent = %v", p.messenger.sent)
	}
}

func TestHandleAdminSelfChat(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	m := msg("relatório do dia", true)
	m.UserPhone = tenant // self chat

	if err := p.svc.Handle(ctx, m); err != nil {
		t.Fatal(err)
	}
	buf, err := p.buffers.Get(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf.Messages) != 1 {
		t.Errorf("buffer = %v", buf.Messages)
	}
}

func TestAreaCodeFilter(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	if err := p.kv.Set(ctx, "establishments/"+tenant+"/config", map[string]any{
		"allowed_phone_area_codes": []string{"51"},
	}); err != nil {
		t.Fatal(err)
	}

	// User "5511..." has area code 11: blocked.
	if err := p.svc.Handle(ctx, msg("oi", false)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.buffers.Get(ctx, user); err != kvstore.ErrNotFound {
		t.Error("blocked area code reached the buffer")
	}

	// A 51 number goes through.
	m := msg("oi", false)
	m.UserPhone = "5551777770000"
	m.RemoteJid = m.UserPhone + "@s.whatsapp.net"
	if err := p.svc.Handle(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, err := p.buffers.Get(ctx, m.UserPhone); err != nil {
		t.Errorf("allowed area code not buffered: %v", err)
	}
}

func TestHandlePresenceOnlyWithBuffer(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	// No buffer: presence is ignored, nothing is created.
	if err := p.svc.HandlePresence(ctx, &PresenceUpdate{UserPhone: user, Presence: "composing"}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.buffers.Get(ctx, user); err != kvstore.ErrNotFound {
		t.Error("presence created a buffer")
	}

	if err := p.buffers.Append(ctx, tenant, user, "clinic-main", "oi"); err != nil {
		t.Fatal(err)
	}
	if err := p.svc.HandlePresence(ctx, &PresenceUpdate{UserPhone: user, Presence: "composing"}); err != nil {
		t.Fatal(err)
	}
	buf, err := p.buffers.Get(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Presence != buffer.PresenceComposing {
		t.Errorf("presence = %q", buf.Presence)
	}
}
