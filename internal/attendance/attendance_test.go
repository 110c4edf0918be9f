package attendance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
)

type recordingNotifier struct {
	sent []string
}

func (n *recordingNotifier) SendText(_ context.Context, _, _, text string) error {
	n.sent = append(n.sent, text)
	return nil
}

func TestIsActiveLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := kvstore.NewMemoryStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, 15*time.Minute).WithClock(func() time.Time { return now })

	// No record yet.
	active, err := svc.IsActive(ctx, notifier, "inst", "tenant", "user")
	if err != nil || active {
		t.Fatalf("active=%v err=%v, want inactive", active, err)
	}

	if err := svc.Activate(ctx, "tenant", "user"); err != nil {
		t.Fatal(err)
	}
	active, err = svc.IsActive(ctx, notifier, "inst", "tenant", "user")
	if err != nil || !active {
		t.Fatalf("active=%v err=%v, want active", active, err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("unexpected notice: %v", notifier.sent)
	}

	// Attendant messages keep the handoff alive.
	now = now.Add(10 * time.Minute)
	if err := svc.TouchAttendant(ctx, "tenant", "user"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(10 * time.Minute)
	active, err = svc.IsActive(ctx, notifier, "inst", "tenant", "user")
	if err != nil || !active {
		t.Fatalf("active=%v err=%v, want still active after touch", active, err)
	}

	// Idle past the timeout: deactivated and the user is notified.
	now = now.Add(20 * time.Minute)
	active, err = svc.IsActive(ctx, notifier, "inst", "tenant", "user")
	if err != nil || active {
		t.Fatalf("active=%v err=%v, want auto-deactivated", active, err)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "inatividade") {
		t.Errorf("notice = %v", notifier.sent)
	}

	// Deactivation is persisted.
	flag, err := svc.Flag(ctx, "tenant", "user")
	if err != nil || flag {
		t.Errorf("flag=%v err=%v, want persisted false", flag, err)
	}
}
