package courier

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configuration from an optional file and COURIER_
// prefixed environment variables, layered over DefaultConfig. Nested keys
// map to underscores, so postgres.conn_string is COURIER_POSTGRES_CONN_STRING.
// An empty path reads the environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("courier: read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("courier: decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("service_name", d.ServiceName)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("local_queue_size", d.LocalQueueSize)
	v.SetDefault("scheduled_job_first_execution", d.ScheduledJobFirstExecution)
	v.SetDefault("scheduled_job_polling_interval", d.ScheduledJobPollingInterval)
	v.SetDefault("first_node_reassignment_execution", d.FirstNodeReassignmentExecution)
	v.SetDefault("node_reassignment_polling_interval", d.NodeReassignmentPollingInterval)
	v.SetDefault("recovery_first_execution", d.RecoveryFirstExecution)
	v.SetDefault("recovery_polling_interval", d.RecoveryPollingInterval)
	v.SetDefault("recovery_batch_size", d.RecoveryBatchSize)
	v.SetDefault("ping_interval", d.PingInterval)
	v.SetDefault("failures_before_circuit_breaks", d.FailuresBeforeCircuitBreaks)
	v.SetDefault("send_rate_limit", d.SendRateLimit)
	v.SetDefault("send_rate_burst", d.SendRateBurst)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("postgres.conn_string", d.Postgres.ConnString)
	v.SetDefault("postgres.schema", d.Postgres.Schema)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("rabbitmq.url", d.RabbitMQ.URL)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// NewLogger builds the process logger. Format is "json" or "text"; level
// is one of debug, info, warn, error.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
