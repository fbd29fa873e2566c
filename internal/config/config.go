/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// ChannelBackend selects the schedule channel transport.
type ChannelBackend string

const (
	ChannelMemory ChannelBackend = "memory"
	ChannelRedis  ChannelBackend = "redis"
	ChannelNATS   ChannelBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Schedule channel
	ChannelBackend ChannelBackend
	SeedFile       string // YAML or JSON aggregate loaded into the memory backend

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisAggregateKey   string
	RedisUpdatesChannel string

	NATSURL    string
	NATSToken  string
	NATSBucket string

	ChannelConnectTimeout time.Duration

	// Controller
	MaintenanceInterval time.Duration
	WatcherRetryDelay   time.Duration

	// Fired-event history; disabled when DBDSN is empty.
	DBBackend        DatabaseBackend
	DBDSN            string
	HistoryRetention time.Duration // 0 keeps events forever

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	InstanceID            string

	// Outbound notifications on timeslot start and end.
	WebhookURLs   []string
	WebhookSecret string

	// Signs bearer tokens for the maintenance endpoints; empty disables them.
	JWTSigningKey string

	// Recent log entries kept in memory for the logs endpoint; 0 disables.
	LogBufferSize int
}

// HistoryEnabled reports whether fired events are persisted.
func (c *Config) HistoryEnabled() bool {
	return c != nil && c.DBDSN != ""
}

// HTTPAddr returns the API listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"SLOTWATCH_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"SLOTWATCH_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"SLOTWATCH_HTTP_PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"SLOTWATCH_METRICS_BIND"}, "127.0.0.1:9000"),

		ChannelBackend: ChannelBackend(strings.ToLower(getEnvAny([]string{"SLOTWATCH_CHANNEL_BACKEND"}, string(ChannelMemory)))),
		SeedFile:       getEnvAny([]string{"SLOTWATCH_SEED_FILE"}, ""),

		RedisAddr:           getEnvAny([]string{"SLOTWATCH_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:       getEnvAny([]string{"SLOTWATCH_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:             getEnvIntAny([]string{"SLOTWATCH_REDIS_DB"}, 0),
		RedisAggregateKey:   getEnvAny([]string{"SLOTWATCH_REDIS_AGGREGATE_KEY"}, "slotwatch:channel:schedules"),
		RedisUpdatesChannel: getEnvAny([]string{"SLOTWATCH_REDIS_UPDATES_CHANNEL"}, "slotwatch:channel:schedules:updates"),

		NATSURL:    getEnvAny([]string{"SLOTWATCH_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSToken:  getEnvAny([]string{"SLOTWATCH_NATS_TOKEN"}, ""),
		NATSBucket: getEnvAny([]string{"SLOTWATCH_NATS_BUCKET"}, "SLOTWATCH"),

		ChannelConnectTimeout: getEnvDurationAny([]string{"SLOTWATCH_CHANNEL_CONNECT_TIMEOUT"}, 30*time.Second),

		MaintenanceInterval: getEnvDurationAny([]string{"SLOTWATCH_MAINTENANCE_INTERVAL"}, time.Minute),
		WatcherRetryDelay:   getEnvDurationAny([]string{"SLOTWATCH_WATCHER_RETRY_DELAY"}, time.Second),

		DBBackend: DatabaseBackend(getEnvAny([]string{"SLOTWATCH_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"SLOTWATCH_DB_DSN"}, ""),

		HistoryRetention: getEnvDurationAny([]string{"SLOTWATCH_HISTORY_RETENTION"}, 30*24*time.Hour),

		TracingEnabled:    getEnvBoolAny([]string{"SLOTWATCH_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SLOTWATCH_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SLOTWATCH_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"SLOTWATCH_LEADER_ELECTION_ENABLED"}, false),
		InstanceID:            getEnvAny([]string{"SLOTWATCH_INSTANCE_ID"}, ""),

		WebhookURLs:   getEnvListAny([]string{"SLOTWATCH_WEBHOOK_URLS"}),
		WebhookSecret: getEnvAny([]string{"SLOTWATCH_WEBHOOK_SECRET"}, ""),

		JWTSigningKey: getEnvAny([]string{"SLOTWATCH_JWT_SIGNING_KEY"}, ""),

		LogBufferSize: getEnvIntAny([]string{"SLOTWATCH_LOG_BUFFER_SIZE"}, 1000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	switch c.ChannelBackend {
	case ChannelMemory, ChannelRedis, ChannelNATS:
	default:
		return fmt.Errorf("unsupported channel backend %q (want memory, redis or nats)", c.ChannelBackend)
	}

	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("SLOTWATCH_HTTP_PORT %d out of range", c.HTTPPort)
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("SLOTWATCH_MAINTENANCE_INTERVAL must be positive")
	}
	if c.WatcherRetryDelay <= 0 {
		return fmt.Errorf("SLOTWATCH_WATCHER_RETRY_DELAY must be positive")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("SLOTWATCH_TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	if c.LeaderElectionEnabled && c.ChannelBackend == ChannelMemory {
		return fmt.Errorf("SLOTWATCH_LEADER_ELECTION_ENABLED requires a shared channel backend (redis or nats)")
	}
	if c.SeedFile != "" && c.ChannelBackend != ChannelMemory {
		return fmt.Errorf("SLOTWATCH_SEED_FILE is only supported with the memory channel backend")
	}
	for _, raw := range c.WebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("SLOTWATCH_WEBHOOK_URLS entry %q is not an http(s) URL", raw)
		}
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("SLOTWATCH_JWT_SIGNING_KEY must be at least 32 bytes")
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("SLOTWATCH_HISTORY_RETENTION must not be negative")
	}
	if c.LogBufferSize < 0 {
		return fmt.Errorf("SLOTWATCH_LOG_BUFFER_SIZE must not be negative")
	}
	return nil
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvListAny splits the first set variable on commas, dropping blanks.
func getEnvListAny(keys []string) []string {
	raw := getEnvAny(keys, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDurationAny accepts Go durations ("90s") or bare seconds ("90").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}
