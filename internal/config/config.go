// Package config loads the service configuration from a JSON file with env
// var overlays. Secrets are never read from the file, only from env.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	LLM       LLMConfig       `json:"llm,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the management HTTP API.
type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	APIToken string `json:"-"` // from env WHATSMAN_API_TOKEN only
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures Postgres.
// The DSN is NEVER read from the file (secret), only from env WHATSMAN_POSTGRES_DSN.
type DatabaseConfig struct {
	DSN           string `json:"-"`
	MigrationsDir string `json:"migrations_dir,omitempty"`
}

// GatewayConfig points at the WhatsApp HTTP gateway.
type GatewayConfig struct {
	BaseURL      string `json:"base_url"`
	WebsocketURL string `json:"websocket_url,omitempty"` // empty disables the WS listener
	Username     string `json:"username,omitempty"`
	Password     string `json:"-"` // from env WHATSMAN_GATEWAY_PASSWORD only
}

// LLMConfig configures the OpenAI-compatible completion backend.
type LLMConfig struct {
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"-"` // from env WHATSMAN_OPENAI_API_KEY only
}

// StorageConfig configures the MinIO/S3 media backend.
type StorageConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"-"` // from env WHATSMAN_MINIO_SECRET_KEY only
	UseSSL    bool   `json:"use_ssl,omitempty"`
}

// Enabled reports whether a media backend is configured at all.
func (s StorageConfig) Enabled() bool { return s.Endpoint != "" }

// TelemetryConfig configures OTLP trace export (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18600,
		},
		Database: DatabaseConfig{
			MigrationsDir: "migrations",
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "whatsman",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars. A missing file
// is not an error; env-only deployment is supported.
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

// applyEnvOverrides overlays env vars onto the config. Env takes precedence
// over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	// Secrets, env-only.
	envStr("WHATSMAN_POSTGRES_DSN", &c.Database.DSN)
	envStr("WHATSMAN_API_TOKEN", &c.Server.APIToken)
	envStr("WHATSMAN_GATEWAY_PASSWORD", &c.Gateway.Password)
	envStr("WHATSMAN_OPENAI_API_KEY", &c.LLM.APIKey)
	envStr("WHATSMAN_MINIO_SECRET_KEY", &c.Storage.SecretKey)

	envStr("WHATSMAN_HOST", &c.Server.Host)
	if v := os.Getenv("WHATSMAN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	envStr("WHATSMAN_GATEWAY_URL", &c.Gateway.BaseURL)
	envStr("WHATSMAN_GATEWAY_WS_URL", &c.Gateway.WebsocketURL)
	envStr("WHATSMAN_GATEWAY_USERNAME", &c.Gateway.Username)
	envStr("WHATSMAN_OPENAI_API_BASE", &c.LLM.APIBase)
	envStr("WHATSMAN_MODEL", &c.LLM.Model)
	envStr("WHATSMAN_MINIO_ENDPOINT", &c.Storage.Endpoint)
	envStr("WHATSMAN_MINIO_ACCESS_KEY", &c.Storage.AccessKey)
	if v := os.Getenv("WHATSMAN_MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.UseSSL = b
		}
	}
	envStr("WHATSMAN_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("WHATSMAN_POSTGRES_DSN is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url is required")
	}
	return nil
}
