package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nextlevelbuilder/zapdesk/internal/agents"
	"github.com/nextlevelbuilder/zapdesk/internal/attendance"
	"github.com/nextlevelbuilder/zapdesk/internal/buffer"
	"github.com/nextlevelbuilder/zapdesk/internal/config"
	"github.com/nextlevelbuilder/zapdesk/internal/kvstore"
	"github.com/nextlevelbuilder/zapdesk/internal/reminder"
	"github.com/nextlevelbuilder/zapdesk/internal/runner"
	"github.com/nextlevelbuilder/zapdesk/internal/store"
	"github.com/nextlevelbuilder/zapdesk/internal/store/pg"
	"github.com/nextlevelbuilder/zapdesk/internal/telemetry"
	"github.com/nextlevelbuilder/zapdesk/internal/tools"
	"github.com/nextlevelbuilder/zapdesk/internal/transport"
	"github.com/nextlevelbuilder/zapdesk/internal/webhook"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	kv, err := kvstore.NewFirebaseStore(cfg.Firebase.URL, cfg.Firebase.AuthToken)
	if err != nil {
		slog.Error("firebase store setup failed", "error", err)
		os.Exit(1)
	}

	replica := buffer.NewReplicaID()
	slog.Info("starting zapdesk gateway", "version", Version, "replica", replica)

	stores, err := buildStores(cfg, kv)
	if err != nil {
		slog.Error("store setup failed", "error", err)
		os.Exit(1)
	}

	buffers := buffer.NewService(kv, replica)
	att := attendance.NewService(kv, cfg.Attendance.InactivityTimeoutDuration())
	resolver := agents.NewResolver(kv, cfg.Agents.LastUsedTTLDuration())
	threads := agents.NewThreads(kv, cfg.Threads.ReuseWindowDuration())

	registry := tools.NewRegistry()
	processor := runner.NewProcessor(resolver, threads, registry, stores, runner.Options{
		OpenAIBaseURL: cfg.OpenAI.ResolvedBaseURL(),
		PollInterval:  cfg.Run.PollIntervalDuration(),
		RetryBackoff:  cfg.Run.RetryBackoffDuration(),
		MaxPolls:      cfg.Run.MaxPollCount(),
		MaxAttempts:   cfg.Run.MaxAttemptCount(),
	})

	registry.Register(tools.NewSwitchAgentHandler(resolver, threads, buffers, processor))
	registry.Register(tools.NewHumanAttendanceHandler(att))

	var calendar *transport.CalendarClient
	if cfg.Calendar.Enabled() {
		calendar = transport.NewCalendarClient(cfg.Calendar.BaseURL, cfg.Calendar.APIKey)
		for _, h := range tools.CalendarHandlers(calendar) {
			registry.Register(h)
		}
		slog.Info("calendar tools enabled", "base_url", cfg.Calendar.BaseURL)
	} else {
		slog.Warn("calendar backend not configured, scheduling tools disabled")
	}
	if cfg.Registration.Enabled() {
		reg := transport.NewRegistrationClient(cfg.Registration.BaseURL, cfg.Registration.APIKey)
		for _, h := range tools.RegistrationHandlers(reg) {
			registry.Register(h)
		}
		slog.Info("registration tools enabled", "base_url", cfg.Registration.BaseURL)
	} else {
		slog.Warn("registration backend not configured, registration tools disabled")
	}

	evo := transport.NewEvolution(cfg.Evolution.BaseURL, cfg.Evolution.APIKey,
		cfg.Evolution.DelayMs(), cfg.Evolution.Rate())

	engine := buffer.NewEngine(replica,
		cfg.Buffer.TypingGraceDuration(), cfg.Buffer.SettleWindowDuration(), buffers)
	collector := buffer.NewCollector(replica, buffers, engine, processor, evo, buffer.CollectorOptions{
		CheckInterval: cfg.Buffer.CheckIntervalDuration(),
		StartupDelay:  cfg.Buffer.StartupDelayDuration(),
		OwnershipTTL:  cfg.Buffer.OwnershipTTLDuration(),
		MaxConcurrent: cfg.Buffer.MaxConcurrentSlots(),
	})
	collector.Start(ctx)

	incoming := webhook.NewIncomingService(kv, buffers, att, stores.History, evo, cfg.Incoming.MaxChars())

	var remRunner webhook.ReminderRunner
	if cfg.Reminder.Enabled {
		if calendar == nil {
			slog.Warn("reminder sweep requires the calendar backend, disabled")
		} else {
			rem, err := reminder.New(kv, calendar, evo, cfg.Reminder.CronExpr())
			if err != nil {
				slog.Error("reminder setup failed", "error", err)
				os.Exit(1)
			}
			go rem.Start(ctx)
			remRunner = rem
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := webhook.NewServer(addr, incoming, remRunner)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("webhook server failed", "error", err)
		os.Exit(1)
	}

	collector.Wait()
	slog.Info("gateway stopped")
}

// buildStores picks the usage/history backend: Postgres when a DSN is
// present, the KV store otherwise.
func buildStores(cfg *config.Config, kv kvstore.Store) (*store.Stores, error) {
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		stores, err := pg.NewPGStores(dsn)
		if err != nil {
			return nil, err
		}
		slog.Info("usage and history on postgres")
		return stores, nil
	}
	slog.Info("usage and history on the KV store")
	return &store.Stores{
		Usage:   store.NewKVUsage(kv),
		History: store.NewKVHistory(kv),
	}, nil
}
