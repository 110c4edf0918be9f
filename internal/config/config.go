package config

import (
	"time"
)

// Config is the root configuration for the ZapDesk gateway.
type Config struct {
	Server       ServerConfig     `json:"server"`
	Buffer       BufferConfig     `json:"buffer"`
	Run          RunConfig        `json:"run"`
	Incoming     IncomingConfig   `json:"incoming"`
	Attendance   AttendanceConfig `json:"attendance"`
	Threads      ThreadsConfig    `json:"threads"`
	Agents       AgentsConfig     `json:"agents"`
	Reminder     ReminderConfig   `json:"reminder,omitempty"`
	Firebase     FirebaseConfig   `json:"firebase"`
	Evolution    EvolutionConfig  `json:"evolution"`
	Calendar     BackendConfig    `json:"calendar,omitempty"`
	Registration BackendConfig    `json:"registration,omitempty"`
	OpenAI       OpenAIConfig     `json:"openai,omitempty"`
	Database     DatabaseConfig   `json:"database,omitempty"`
	Telemetry    TelemetryConfig  `json:"telemetry,omitempty"`
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// BufferConfig tunes the message debounce and ownership protocol.
// All durations are Go duration strings.
type BufferConfig struct {
	CheckInterval    string `json:"check_interval,omitempty"`     // collector cycle interval (default "3s")
	SettleWindow     string `json:"settle_window,omitempty"`      // min quiet time before processing (default "5s")
	TypingGrace      string `json:"typing_grace,omitempty"`       // composing/recording grace (default "60s")
	OwnershipTTL     string `json:"ownership_ttl,omitempty"`      // zombie reclamation TTL (default "2m")
	MaxConcurrent    int    `json:"max_concurrent,omitempty"`     // parallel buffer processing slots (default 8)
	StartupDelay     string `json:"startup_delay,omitempty"`      // wait before first cycle (default "1s")
}

// CheckIntervalDuration returns the parsed cycle interval with default applied.
func (b BufferConfig) CheckIntervalDuration() time.Duration {
	return parseDuration(b.CheckInterval, 3*time.Second)
}

// SettleWindowDuration returns the parsed settle window with default applied.
func (b BufferConfig) SettleWindowDuration() time.Duration {
	return parseDuration(b.SettleWindow, 5*time.Second)
}

// TypingGraceDuration returns the parsed typing grace with default applied.
func (b BufferConfig) TypingGraceDuration() time.Duration {
	return parseDuration(b.TypingGrace, 60*time.Second)
}

// OwnershipTTLDuration returns the parsed ownership TTL with default applied.
func (b BufferConfig) OwnershipTTLDuration() time.Duration {
	return parseDuration(b.OwnershipTTL, 2*time.Minute)
}

// StartupDelayDuration returns the parsed startup delay with default applied.
func (b BufferConfig) StartupDelayDuration() time.Duration {
	return parseDuration(b.StartupDelay, time.Second)
}

// MaxConcurrentSlots returns the worker slot count with default applied.
func (b BufferConfig) MaxConcurrentSlots() int {
	if b.MaxConcurrent > 0 {
		return b.MaxConcurrent
	}
	return 8
}

// RunConfig tunes the assistant run orchestrator.
type RunConfig struct {
	PollInterval string `json:"poll_interval,omitempty"` // run status poll cadence (default "1s")
	MaxPolls     int    `json:"max_polls,omitempty"`     // polls before cancellation (default 60)
	MaxAttempts  int    `json:"max_attempts,omitempty"`  // whole-run retries (default 4)
	RetryBackoff string `json:"retry_backoff,omitempty"` // wait between attempts (default "10s")
}

// PollIntervalDuration returns the parsed poll cadence with default applied.
func (r RunConfig) PollIntervalDuration() time.Duration {
	return parseDuration(r.PollInterval, time.Second)
}

// RetryBackoffDuration returns the parsed retry backoff with default applied.
func (r RunConfig) RetryBackoffDuration() time.Duration {
	return parseDuration(r.RetryBackoff, 10*time.Second)
}

// MaxPollCount returns the poll ceiling with default applied.
func (r RunConfig) MaxPollCount() int {
	if r.MaxPolls > 0 {
		return r.MaxPolls
	}
	return 60
}

// MaxAttemptCount returns the attempt ceiling with default applied.
func (r RunConfig) MaxAttemptCount() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return 4
}

// IncomingConfig tunes the inbound webhook pipeline.
type IncomingConfig struct {
	MaxMessageChars int `json:"max_message_chars,omitempty"` // default 500
}

// MaxChars returns the inbound message size cap with default applied.
func (i IncomingConfig) MaxChars() int {
	if i.MaxMessageChars > 0 {
		return i.MaxMessageChars
	}
	return 500
}

// AttendanceConfig tunes human-handoff behaviour.
type AttendanceConfig struct {
	InactivityTimeout string `json:"inactivity_timeout,omitempty"` // default "15m"
}

// InactivityTimeoutDuration returns the parsed attendant timeout with default applied.
func (a AttendanceConfig) InactivityTimeoutDuration() time.Duration {
	return parseDuration(a.InactivityTimeout, 15*time.Minute)
}

// ThreadsConfig tunes assistant thread reuse.
type ThreadsConfig struct {
	ReuseWindow string `json:"reuse_window,omitempty"` // default "10m"
}

// ReuseWindowDuration returns the parsed reuse window with default applied.
func (t ThreadsConfig) ReuseWindowDuration() time.Duration {
	return parseDuration(t.ReuseWindow, 10*time.Minute)
}

// AgentsConfig tunes per-tenant agent routing.
type AgentsConfig struct {
	LastUsedTTL string `json:"last_used_ttl,omitempty"` // stickiness of current_agent (default "5h")
}

// LastUsedTTLDuration returns the parsed agent stickiness TTL with default applied.
func (a AgentsConfig) LastUsedTTLDuration() time.Duration {
	return parseDuration(a.LastUsedTTL, 5*time.Hour)
}

// ReminderConfig configures the next-day appointment reminder sweep.
type ReminderConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Cron    string `json:"cron,omitempty"` // cron expression, default "0 9 * * *"
}

// CronExpr returns the cron expression with default applied.
func (r ReminderConfig) CronExpr() string {
	if r.Cron != "" {
		return r.Cron
	}
	return "0 9 * * *"
}

// FirebaseConfig configures the Realtime Database backend.
// AuthToken is never read from the config file, only from env
// ZAPDESK_FIREBASE_TOKEN.
type FirebaseConfig struct {
	URL       string `json:"url"`
	AuthToken string `json:"-"`
}

// EvolutionConfig configures the WhatsApp transport (Evolution API).
// APIKey comes from env ZAPDESK_EVOLUTION_API_KEY only.
type EvolutionConfig struct {
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"-"`
	SendDelayMs int     `json:"send_delay_ms,omitempty"` // typing delay hint on sendText (default 1200)
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`  // outbound request rate limit (default 10)
}

// DelayMs returns the sendText delay hint with default applied.
func (e EvolutionConfig) DelayMs() int {
	if e.SendDelayMs > 0 {
		return e.SendDelayMs
	}
	return 1200
}

// Rate returns the outbound rate limit with default applied.
func (e EvolutionConfig) Rate() float64 {
	if e.RatePerSec > 0 {
		return e.RatePerSec
	}
	return 10
}

// BackendConfig points at an auxiliary service (calendar, registration).
// APIKey comes from env only.
type BackendConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"-"`
}

// Enabled reports whether the backend is configured at all.
func (b BackendConfig) Enabled() bool {
	return b.BaseURL != ""
}

// OpenAIConfig configures the assistant provider endpoint. Per-tenant API
// keys live in the KV store, not here.
type OpenAIConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default "https://api.openai.com/v1"
}

// ResolvedBaseURL returns the provider endpoint with default applied.
func (o OpenAIConfig) ResolvedBaseURL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}
	return "https://api.openai.com/v1"
}

// DatabaseConfig configures the optional Postgres side (usage ledger,
// conversation history). PostgresDSN is never read from the config file,
// only from env ZAPDESK_POSTGRES_DSN. Empty DSN = KV-backed fallback.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "zapdesk-gateway"
	Headers     map[string]string `json:"headers,omitempty"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
