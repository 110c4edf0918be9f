package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Reminder: ReminderConfig{
			Cron: "0 9 * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets (never persisted in the config file)
	envStr("ZAPDESK_FIREBASE_TOKEN", &c.Firebase.AuthToken)
	envStr("ZAPDESK_EVOLUTION_API_KEY", &c.Evolution.APIKey)
	envStr("ZAPDESK_POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("ZAPDESK_CALENDAR_API_KEY", &c.Calendar.APIKey)
	envStr("ZAPDESK_REGISTRATION_API_KEY", &c.Registration.APIKey)

	// Endpoints
	envStr("ZAPDESK_FIREBASE_URL", &c.Firebase.URL)
	envStr("ZAPDESK_EVOLUTION_API_URL", &c.Evolution.BaseURL)
	envStr("ZAPDESK_OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	envStr("ZAPDESK_CALENDAR_API_URL", &c.Calendar.BaseURL)
	envStr("ZAPDESK_REGISTRATION_API_URL", &c.Registration.BaseURL)

	// Server host/port
	envStr("ZAPDESK_HOST", &c.Server.Host)
	if v := os.Getenv("ZAPDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	// Telemetry
	envStr("ZAPDESK_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ZAPDESK_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ZAPDESK_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("ZAPDESK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ZAPDESK_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Validate checks that the pieces required to serve traffic are present.
func (c *Config) Validate() error {
	if c.Firebase.URL == "" {
		return fmt.Errorf("firebase.url is required (or ZAPDESK_FIREBASE_URL)")
	}
	if c.Evolution.BaseURL == "" {
		return fmt.Errorf("evolution.base_url is required (or ZAPDESK_EVOLUTION_API_URL)")
	}
	if c.Evolution.APIKey == "" {
		return fmt.Errorf("ZAPDESK_EVOLUTION_API_KEY environment variable is not set")
	}
	return nil
}
