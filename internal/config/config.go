// Package config provides configuration for the chat hub.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Fan-out drivers
const (
	FanoutNone  = "none"
	FanoutNATS  = "nats"
	FanoutRedis = "redis"
)

// Config holds the hub configuration.
type Config struct {
	// Server settings
	HTTPPort int // REST, /health and the WebSocket route
	RPCPort  int // Internal JSON-RPC listener, 0 disables it

	// Storage. A postgres:// URL selects Postgres, anything else is a SQLite DSN.
	DatabaseURL string

	// Auth settings
	JWTSecret        string
	JWTIssuer        string
	ClientTokenTTL   time.Duration
	AttendantJWKSURL string

	// Cross-instance fan-out
	FanoutDriver  string
	FanoutSubject string
	NATSURL       string
	RedisURL      string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int
	OpTimeout      time.Duration

	// Authorization policy file, empty uses the built-in policy
	PolicyFile string

	CORSOrigins []string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics export, disabled when the endpoint is empty
	OTLPEndpoint string
	ServiceName  string
}

// Load loads configuration from a .env file, an optional YAML file named by
// CONFIG_FILE and environment variables, in increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	l := loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		l.file = file
	}

	cfg := &Config{
		HTTPPort:         l.getEnvInt("HTTP_PORT", 8080),
		RPCPort:          l.getEnvInt("RPC_PORT", 0),
		DatabaseURL:      l.getEnv("DATABASE_URL", "file:chathub.db"),
		JWTSecret:        l.getEnv("JWT_SECRET", ""),
		JWTIssuer:        l.getEnv("JWT_ISSUER", "roboteasy"),
		ClientTokenTTL:   time.Duration(l.getEnvInt("CLIENT_TOKEN_TTL_HOURS", 24)) * time.Hour,
		AttendantJWKSURL: l.getEnv("ATTENDANT_JWKS_URL", ""),
		FanoutDriver:     strings.ToLower(l.getEnv("FANOUT_DRIVER", FanoutNone)),
		FanoutSubject:    l.getEnv("FANOUT_SUBJECT", "chathub.fanout"),
		NATSURL:          l.getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		RedisURL:         l.getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		PingInterval:     time.Duration(l.getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:     time.Duration(l.getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:      time.Duration(l.getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:   int64(l.getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		SendBuffer:       l.getEnvInt("WS_SEND_BUFFER", 256),
		OpTimeout:        time.Duration(l.getEnvInt("OP_TIMEOUT_MS", 10000)) * time.Millisecond,
		PolicyFile:       l.getEnv("POLICY_FILE", ""),
		CORSOrigins:      splitList(l.getEnv("CORS_ORIGINS", "*")),
		LogLevel:         l.getEnv("LOG_LEVEL", "info"),
		LogFormat:        l.getEnv("LOG_FORMAT", "json"),
		OTLPEndpoint:     l.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      l.getEnv("OTEL_SERVICE_NAME", "chathub"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		// Client tokens are always HMAC signed.
		return fmt.Errorf("JWT_SECRET is required to issue client tokens")
	}
	switch c.FanoutDriver {
	case FanoutNone, FanoutNATS, FanoutRedis:
	default:
		return fmt.Errorf("unknown FANOUT_DRIVER %q", c.FanoutDriver)
	}
	if c.PingInterval >= c.ReadTimeout {
		return fmt.Errorf("WS_PING_INTERVAL_MS must be lower than WS_READ_TIMEOUT_MS")
	}
	return nil
}

// UsePostgres reports whether DatabaseURL points at Postgres.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

type loader struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func (l loader) getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := l.file[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func (l loader) getEnvInt(key string, defaultVal int) int {
	if val := l.getEnv(key, ""); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
