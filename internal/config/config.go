package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends accepted by LEDGER_BACKEND.
const (
	LedgerAuto     = "auto"
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

const defaultSignatureMaxAge = 5 * time.Minute

// Config contains all runtime settings for the agent service.
type Config struct {
	BindAddr         string
	PublicURL        string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	AgentVersion    string
	PaymentProtocol string
	PaymentPayTo    string
	SignatureMaxAge time.Duration

	// ChatSeed seeds the chat reply picker; 0 seeds from the clock.
	ChatSeed uint64

	DatabaseURL   string
	LedgerBackend string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":3401"),
		PublicURL:        strings.TrimRight(stringsTrimSpace("APP_PUBLIC_URL"), "/"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "xiaobei"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		AllowAnyOrigin:   false,
		AgentVersion:     envOrDefault("AGENT_VERSION", "0.1.0"),
		PaymentProtocol:  envOrDefault("PAYMENT_PROTOCOL", "x402"),
		PaymentPayTo:     stringsTrimSpace("PAYMENT_PAY_TO"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		LedgerBackend:    strings.ToLower(envOrDefault("LEDGER_BACKEND", LedgerAuto)),
		ShutdownTimeout:  15 * time.Second,
		SignatureMaxAge:  defaultSignatureMaxAge,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SignatureMaxAge, err = SignatureMaxAge()
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatSeed, err = uint64FromEnv("CHAT_SEED", 0)
	if err != nil {
		return Config{}, err
	}

	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.PublicURL != "" {
		u, err := url.Parse(cfg.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("APP_PUBLIC_URL must be an absolute http(s) URL")
		}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return Config{}, fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch cfg.LedgerBackend {
	case LedgerAuto, LedgerMemory, LedgerRedis:
	case LedgerPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("LEDGER_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("LEDGER_BACKEND must be one of auto, memory, postgres, redis")
	}
	if strings.TrimSpace(cfg.PaymentProtocol) == "" {
		return Config{}, fmt.Errorf("PAYMENT_PROTOCOL must not be empty")
	}

	return cfg, nil
}

// SignatureMaxAge reads SIGNATURE_MAX_AGE on its own so the CLI can share
// the server's freshness window without loading the rest.
func SignatureMaxAge() (time.Duration, error) {
	d, err := durationFromEnv("SIGNATURE_MAX_AGE", defaultSignatureMaxAge)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("SIGNATURE_MAX_AGE must be positive")
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func uint64FromEnv(key string, fallback uint64) (uint64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
