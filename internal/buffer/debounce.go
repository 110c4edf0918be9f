package buffer

import (
	"context"
	"log/slog"
	"time"
)

// Engine decides, each collector cycle, whether a pending buffer is ready
// to process or should wait another cycle. The checks run in a fixed
// order; the first deferral wins.
type Engine struct {
	replica      string
	typingGrace  time.Duration
	settleWindow time.Duration
	buffers      *Service
}

// NewEngine creates a debounce engine for one replica.
func NewEngine(replica string, typingGrace, settleWindow time.Duration, buffers *Service) *Engine {
	return &Engine{
		replica:      replica,
		typingGrace:  typingGrace,
		settleWindow: settleWindow,
		buffers:      buffers,
	}
}

// ShouldDefer reports whether the buffer must wait another cycle.
//
// Ownership is checked first so a replica never processes, or even
// inspects further, a buffer claimed by a sibling. A user still typing
// gets a grace window; past the grace the presence is forced back to
// available so a lost "available" event cannot park the buffer forever.
// Finally the buffer must have been quiet for the settle window and
// actually contain messages.
func (e *Engine) ShouldDefer(ctx context.Context, userPhone string, buf *PendingBuffer, now time.Time) bool {
	if buf.OwnerReplica != e.replica {
		return true
	}

	if buf.Presence.Typing() {
		presenceAge := now.Sub(time.Unix(buf.PresenceUpdatedAt, 0))
		if presenceAge < e.typingGrace {
			slog.Debug("buffer deferred: user typing",
				"user", userPhone, "presence", buf.Presence, "age", presenceAge)
			return true
		}
		// Grace expired: assume the transport dropped the "available"
		// event and persist the correction.
		buf.Presence = PresenceAvailable
		buf.PresenceUpdatedAt = now.Unix()
		if err := e.buffers.Update(ctx, userPhone, map[string]any{
			"presence":            string(PresenceAvailable),
			"presence_updated_at": now.Unix(),
		}); err != nil {
			slog.Warn("buffer presence force failed", "user", userPhone, "error", err)
		}
	}

	if now.Sub(time.Unix(buf.UpdatedAt, 0)) < e.settleWindow {
		return true
	}

	if len(buf.Messages) == 0 {
		return true
	}

	return false
}
