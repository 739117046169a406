// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultLockTTL = 30 * time.Second
	minLockTTL     = time.Second
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the REST and WebSocket server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs the board on in-memory storage with demo data.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPublicKey is the PEM-encoded public key or path to file used to validate bearer tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is the PEM-encoded private key or path to file; only the seed tool issues tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTIssuer is the expected iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// DragLockTTL is how long a drag lock stays valid without renewal (e.g. "30s").
	DragLockTTL string `mapstructure:"DRAG_LOCK_TTL"`
	// DragLockSweepInterval is how often expired drag locks are swept. Empty derives it from the TTL.
	DragLockSweepInterval string `mapstructure:"DRAG_LOCK_SWEEP_INTERVAL"`
	// BoardRoom is the realtime room that receives lock and order broadcasts.
	BoardRoom string `mapstructure:"BOARD_ROOM"`
	// WSAllowedOrigins is a comma-separated list of origins allowed to open the WebSocket. Empty allows same host only.
	WSAllowedOrigins string `mapstructure:"WS_ALLOWED_ORIGINS"`
	// BoardPolicyFile is an optional path to a Rego policy replacing the built-in board policy.
	BoardPolicyFile string `mapstructure:"BOARD_POLICY_FILE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTelEndpoint is the OTLP gRPC collector endpoint; empty uses no-op providers.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure forces a plaintext OTLP connection.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. When set, board events are published to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// BoardEventsTopic is the Kafka topic for board events.
	BoardEventsTopic string `mapstructure:"BOARD_EVENTS_KAFKA_TOPIC"`

	// Worker-only: Loki URL the event worker pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "planboard-auth")
	v.SetDefault("JWT_AUDIENCE", "planboard-api")
	v.SetDefault("DRAG_LOCK_TTL", "30s")
	v.SetDefault("DRAG_LOCK_SWEEP_INTERVAL", "")
	v.SetDefault("BOARD_ROOM", "planning-board")
	v.SetDefault("WS_ALLOWED_ORIGINS", "")
	v.SetDefault("BOARD_POLICY_FILE", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "planning-board")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("BOARD_EVENTS_KAFKA_TOPIC", "planning-board-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "planning-board-event-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BoardRoom == "" {
		return nil, errors.New("config: BOARD_ROOM must not be empty")
	}

	ttl, err := time.ParseDuration(cfg.DragLockTTL)
	if err != nil {
		return nil, errors.New("config: DRAG_LOCK_TTL must be a duration (e.g. 30s)")
	}
	if ttl < minLockTTL {
		return nil, errors.New("config: DRAG_LOCK_TTL must be at least 1s")
	}
	if cfg.DragLockSweepInterval != "" {
		sweep, err := time.ParseDuration(cfg.DragLockSweepInterval)
		if err != nil || sweep <= 0 {
			return nil, errors.New("config: DRAG_LOCK_SWEEP_INTERVAL must be a positive duration")
		}
		if sweep > ttl {
			return nil, errors.New("config: DRAG_LOCK_SWEEP_INTERVAL must not exceed DRAG_LOCK_TTL")
		}
	}

	if cfg.Env == "production" && strings.TrimSpace(cfg.JWTPublicKey) == "" {
		return nil, errors.New("config: JWT_PUBLIC_KEY must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// LockTTL parses DragLockTTL as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) LockTTL() time.Duration {
	d, err := time.ParseDuration(c.DragLockTTL)
	if err != nil || d < minLockTTL {
		return defaultLockTTL
	}
	return d
}

// SweepInterval returns the drag lock sweep interval. When DragLockSweepInterval is unset it is
// a sixth of the TTL (5s for the default 30s), never less than one second.
func (c *Config) SweepInterval() time.Duration {
	if c.DragLockSweepInterval != "" {
		if d, err := time.ParseDuration(c.DragLockSweepInterval); err == nil && d > 0 {
			return d
		}
	}
	d := c.LockTTL() / 6
	if d < time.Second {
		d = time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AllowedOrigins returns the WebSocket origin allow-list.
func (c *Config) AllowedOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.WSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
