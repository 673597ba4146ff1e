package courier

import (
	"fmt"
	"time"
)

// Reserved advisory lock ids. Node ids share the advisory lock keyspace
// with these, so a node may never be assigned one of them.
const (
	ReassignmentLockID     int64 = 10000
	ScheduledJobLockID     int64 = 10001
	IncomingRecoveryLockID int64 = 10002
	OutgoingRecoveryLockID int64 = 10003
)

// Config holds the node-level configuration shared by every subsystem.
type Config struct {
	// NodeID uniquely identifies this process among all nodes sharing
	// the store. Zero is reserved for "any node".
	NodeID int32 `mapstructure:"node_id"`

	// ServiceName is recorded as the source of dead letters.
	ServiceName string `mapstructure:"service_name"`

	// MaxAttempts is the default maximum processing attempts for a
	// message type without an explicit retry policy.
	MaxAttempts int `mapstructure:"max_attempts"`

	// Concurrency is the number of local worker goroutines executing
	// incoming envelopes.
	Concurrency int `mapstructure:"concurrency"`

	// LocalQueueSize bounds the in-memory hand-off between receipt and
	// execution. Persisted envelopes that do not fit are recovered later.
	LocalQueueSize int `mapstructure:"local_queue_size"`

	ScheduledJobFirstExecution  time.Duration `mapstructure:"scheduled_job_first_execution"`
	ScheduledJobPollingInterval time.Duration `mapstructure:"scheduled_job_polling_interval"`

	FirstNodeReassignmentExecution  time.Duration `mapstructure:"first_node_reassignment_execution"`
	NodeReassignmentPollingInterval time.Duration `mapstructure:"node_reassignment_polling_interval"`

	RecoveryFirstExecution  time.Duration `mapstructure:"recovery_first_execution"`
	RecoveryPollingInterval time.Duration `mapstructure:"recovery_polling_interval"`

	// RecoveryBatchSize caps how many unowned envelopes one recovery
	// pass claims.
	RecoveryBatchSize int `mapstructure:"recovery_batch_size"`

	// PingInterval is how often a latched sending agent probes its
	// destination.
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// FailuresBeforeCircuitBreaks is the number of consecutive transport
	// failures that latch a sending agent.
	FailuresBeforeCircuitBreaks uint32 `mapstructure:"failures_before_circuit_breaks"`

	// SendRateLimit is the sustained envelopes per second each sending
	// agent may transmit. Zero disables rate limiting.
	SendRateLimit float64 `mapstructure:"send_rate_limit"`
	SendRateBurst int     `mapstructure:"send_rate_burst"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	NATS     NATSConfig     `mapstructure:"nats"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// PostgresConfig locates the envelope store.
type PostgresConfig struct {
	ConnString string `mapstructure:"conn_string"`
	Schema     string `mapstructure:"schema"`
}

// RedisConfig is used by the leased lock and the stream transport.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RabbitMQConfig is used by the RabbitMQ transport.
type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

// NATSConfig is used by the NATS JetStream transport.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// DefaultConfig returns a Config with sensible defaults. NodeID is left
// unset and must be provided by the host.
func DefaultConfig() Config {
	return Config{
		ServiceName:                     "courier",
		MaxAttempts:                     3,
		Concurrency:                     10,
		LocalQueueSize:                  1000,
		ScheduledJobFirstExecution:      time.Second,
		ScheduledJobPollingInterval:     5 * time.Second,
		FirstNodeReassignmentExecution:  time.Second,
		NodeReassignmentPollingInterval: 5 * time.Second,
		RecoveryFirstExecution:          time.Second,
		RecoveryPollingInterval:         5 * time.Second,
		RecoveryBatchSize:               100,
		PingInterval:                    time.Second,
		FailuresBeforeCircuitBreaks:     3,
		SendRateBurst:                   1,
		ShutdownTimeout:                 30 * time.Second,
		Postgres:                        PostgresConfig{Schema: "public"},
		MetricsAddr:                     ":9090",
		LogLevel:                        "info",
		LogFormat:                       "json",
	}
}

// Validate reports configuration errors that must fail startup.
func (c Config) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("%w: node id 0 is reserved for any node", ErrInvalidNodeID)
	}
	switch int64(c.NodeID) {
	case ReassignmentLockID, ScheduledJobLockID, IncomingRecoveryLockID, OutgoingRecoveryLockID:
		return fmt.Errorf("%w: node id %d collides with a reserved lock id", ErrInvalidNodeID, c.NodeID)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidConfig)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}
	if c.ScheduledJobPollingInterval <= 0 || c.NodeReassignmentPollingInterval <= 0 || c.RecoveryPollingInterval <= 0 {
		return fmt.Errorf("%w: polling intervals must be positive", ErrInvalidConfig)
	}
	return nil
}
