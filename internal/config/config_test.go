package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if got := cfg.Buffer.CheckIntervalDuration(); got != 3*time.Second {
		t.Errorf("check interval = %v, want 3s", got)
	}
	if got := cfg.Buffer.SettleWindowDuration(); got != 5*time.Second {
		t.Errorf("settle window = %v, want 5s", got)
	}
	if got := cfg.Buffer.TypingGraceDuration(); got != 60*time.Second {
		t.Errorf("typing grace = %v, want 60s", got)
	}
	if got := cfg.Buffer.OwnershipTTLDuration(); got != 2*time.Minute {
		t.Errorf("ownership TTL = %v, want 2m", got)
	}
	if got := cfg.Run.MaxAttemptCount(); got != 4 {
		t.Errorf("max attempts = %d, want 4", got)
	}
	if got := cfg.Run.MaxPollCount(); got != 60 {
		t.Errorf("max polls = %d, want 60", got)
	}
	if got := cfg.Incoming.MaxChars(); got != 500 {
		t.Errorf("max message chars = %d, want 500", got)
	}
	if got := cfg.Threads.ReuseWindowDuration(); got != 10*time.Minute {
		t.Errorf("thread reuse window = %v, want 10m", got)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoad_JSON5AndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		// webhook listener
		server: { host: "127.0.0.1", port: 9000 },
		buffer: { check_interval: "5s", ownership_ttl: "3m" },
		firebase: { url: "https://example.firebaseio.com" },
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ZAPDESK_PORT", "9100")
	t.Setenv("ZAPDESK_EVOLUTION_API_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if got := cfg.Buffer.CheckIntervalDuration(); got != 5*time.Second {
		t.Errorf("check interval = %v, want 5s", got)
	}
	if got := cfg.Buffer.OwnershipTTLDuration(); got != 3*time.Minute {
		t.Errorf("ownership TTL = %v, want 3m", got)
	}
	if cfg.Evolution.APIKey != "secret" {
		t.Error("evolution API key not taken from env")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing firebase URL")
	}

	cfg.Firebase.URL = "https://example.firebaseio.com"
	cfg.Evolution.BaseURL = "https://evo.example.com"
	cfg.Evolution.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	b := BufferConfig{CheckInterval: "not-a-duration"}
	if got := b.CheckIntervalDuration(); got != 3*time.Second {
		t.Errorf("got %v, want default 3s", got)
	}
}
