package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/zapdesk/internal/trace"
)

// apologyMessage is delivered when processing a flushed buffer fails for
// good. The buffer is already gone at that point, so this is the user's
// only signal to resend.
const apologyMessage = "Desculpe, tivemos um problema ao processar sua mensagem. Por favor, tente novamente em alguns instantes."

// Flush is one coalesced user turn handed to the processor.
type Flush struct {
	UserPhone    string
	TenantPhone  string
	InstanceName string
	Text         string
	TraceID      string
}

// Handler processes a flushed buffer and returns the reply to deliver.
type Handler interface {
	HandleFlush(ctx context.Context, f Flush) (reply string, err error)
}

// Transport is the outbound messaging surface the collector needs.
type Transport interface {
	SendText(ctx context.Context, instance, to, text string) error
	SendTyping(ctx context.Context, instance, to string)
}

// Collector owns the background scan loop. Each cycle it bulk-reads every
// pending buffer, runs the debounce checks, flushes the ready ones, and
// processes them concurrently under a bounded worker budget. It also
// sweeps buffers whose owning replica has died and reassigns them to
// itself.
type Collector struct {
	replica      string
	buffers      *Service
	engine       *Engine
	handler      Handler
	transport    Transport
	interval     time.Duration
	startupDelay time.Duration
	ownershipTTL time.Duration
	sem          *semaphore.Weighted
	now          func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// CollectorOptions carries the tuning knobs for NewCollector.
type CollectorOptions struct {
	CheckInterval time.Duration
	StartupDelay  time.Duration
	OwnershipTTL  time.Duration
	MaxConcurrent int
}

// NewCollector wires a collector for one replica.
func NewCollector(replica string, buffers *Service, engine *Engine, handler Handler, transport Transport, opts CollectorOptions) *Collector {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	return &Collector{
		replica:      replica,
		buffers:      buffers,
		engine:       engine,
		handler:      handler,
		transport:    transport,
		interval:     opts.CheckInterval,
		startupDelay: opts.StartupDelay,
		ownershipTTL: opts.OwnershipTTL,
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		now:          time.Now,
	}
}

// WithClock overrides the collector clock. Tests only.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Start launches the scan loop. Calling Start again while the loop is
// running is a no-op, so accidental double starts cannot spawn competing
// loops inside one replica.
func (c *Collector) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		slog.Warn("collector already running", "replica", c.replica)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		c.loop(ctx)
	}()
	slog.Info("collector started", "replica", c.replica, "interval", c.interval)
}

// Wait blocks until the scan loop and all in-flight buffer workers exit.
func (c *Collector) Wait() {
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	if c.startupDelay > 0 {
		select {
		case <-time.After(c.startupDelay):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.cycle(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// cycle runs one scan pass. A failure in either phase is logged and the
// loop carries on; the next tick gets a fresh chance.
func (c *Collector) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("collector cycle panic", "replica", c.replica, "panic", r)
		}
	}()

	if err := c.checkBuffers(ctx); err != nil {
		slog.Error("collector scan failed", "replica", c.replica, "error", err)
	}
	if err := c.sweepZombies(ctx); err != nil {
		slog.Error("collector zombie sweep failed", "replica", c.replica, "error", err)
	}
}

// checkBuffers flushes and dispatches every buffer that passed the
// debounce checks. The flush happens inline, before the next buffer is
// examined and before any slow AI work starts, so a crash after this
// point loses at most the turns already removed from the store.
func (c *Collector) checkBuffers(ctx context.Context) error {
	all, err := c.buffers.All(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	for userPhone, buf := range all {
		b := buf
		if c.engine.ShouldDefer(ctx, userPhone, &b, now) {
			continue
		}

		if _, err := c.buffers.Clear(ctx, userPhone); err != nil {
			slog.Error("buffer flush failed", "user", userPhone, "error", err)
			continue
		}

		f := Flush{
			UserPhone:    userPhone,
			TenantPhone:  b.TenantPhone,
			InstanceName: b.InstanceName,
			Text:         strings.Join(b.Messages, ". "),
			TraceID:      trace.NewID(),
		}

		if err := c.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire worker slot: %w", err)
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.sem.Release(1)
			c.processFlush(ctx, f)
		}()
	}
	return nil
}

// processFlush runs one flushed turn end to end. Panics and errors are
// contained here so one bad conversation never takes down the loop or a
// sibling worker.
func (c *Collector) processFlush(ctx context.Context, f Flush) {
	ctx = trace.WithID(ctx, f.TraceID)
	log := slog.With("trace_id", f.TraceID, "user", f.UserPhone)

	defer func() {
		if r := recover(); r != nil {
			log.Error("buffer processing panic", "panic", r)
			c.apologize(ctx, f, log)
		}
	}()

	log.Info("processing flushed buffer", "chars", len(f.Text))
	c.transport.SendTyping(ctx, f.InstanceName, f.UserPhone)

	reply, err := c.handler.HandleFlush(ctx, f)
	if err != nil {
		log.Error("buffer processing failed", "error", err)
		c.apologize(ctx, f, log)
		return
	}
	if reply == "" {
		return
	}

	if err := c.transport.SendText(ctx, f.InstanceName, f.UserPhone, reply); err != nil {
		log.Error("reply delivery failed", "error", err)
	}
}

func (c *Collector) apologize(ctx context.Context, f Flush, log *slog.Logger) {
	if err := c.transport.SendText(ctx, f.InstanceName, f.UserPhone, apologyMessage); err != nil {
		log.Error("apology delivery failed", "error", err)
	}
}

// sweepZombies reassigns buffers whose owner claim is stale or missing.
// The TTL is a few collector cycles long, so a replica that merely
// stalled does not get its buffers stolen.
func (c *Collector) sweepZombies(ctx context.Context) error {
	all, err := c.buffers.All(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	for userPhone, buf := range all {
		ownerless := buf.OwnerReplica == ""
		stale := !ownerless && now.Sub(time.Unix(buf.OwnerClaimedAt, 0)) > c.ownershipTTL
		if !ownerless && !stale {
			continue
		}
		if buf.OwnerReplica == c.replica && !stale {
			continue
		}

		err := c.buffers.Update(ctx, userPhone, map[string]any{
			"owner_replica":    c.replica,
			"owner_claimed_at": now.Unix(),
			"updated_at":       now.Unix(),
		})
		if err != nil {
			slog.Error("zombie reassign failed", "user", userPhone, "error", err)
			continue
		}
		slog.Warn("reassigned zombie buffer",
			"user", userPhone, "previous_owner", buf.OwnerReplica, "replica", c.replica)
	}
	return nil
}
