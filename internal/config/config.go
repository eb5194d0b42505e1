// Package config defines the configuration for the RelayPoint resilience
// service. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles: values resolve from
// the OS environment first, then a dotenv file. Any missing required value or
// invalid format fails startup immediately (fail fast).
package config

import "time"

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"relaypoint"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server     ServerConfig
	Database   DatabaseConfig
	AWS        AWSConfig
	Resilience ResilienceConfig
	DLQ        DLQConfig
}

// ServerConfig holds the worker's HTTP listener settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	AlertQueue    string `envconfig:"SQS_ALERTS" validate:"required,url"`
	DeliveryQueue string `envconfig:"SQS_DELIVERIES" validate:"required,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ResilienceConfig tunes the circuit breakers, retry budget, and retry queue.
type ResilienceConfig struct {
	BreakerFailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerRecoveryTimeout  time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"30s"`
	BreakerHalfOpenCalls    uint32        `envconfig:"BREAKER_HALF_OPEN_CALLS" default:"2"`

	BudgetWindow time.Duration `envconfig:"RETRY_BUDGET_WINDOW" default:"5m"`

	QueueTick       time.Duration `envconfig:"RETRY_QUEUE_TICK" default:"5s"`
	QueueMaxPerTick int           `envconfig:"RETRY_QUEUE_MAX_PER_TICK" default:"10"`
}

// DLQConfig tunes the dead letter queue's retention sweep and auto-recovery
// delays.
type DLQConfig struct {
	Retention  time.Duration `envconfig:"DLQ_RETENTION" default:"720h"`
	BatchDelay time.Duration `envconfig:"DLQ_BULK_BATCH_DELAY" default:"1s"`

	AutoRetryRateLimit   time.Duration `envconfig:"DLQ_AUTO_RETRY_RATE_LIMIT" default:"15m"`
	AutoRetryUnavailable time.Duration `envconfig:"DLQ_AUTO_RETRY_UNAVAILABLE" default:"30m"`
	AutoRetryTimeout     time.Duration `envconfig:"DLQ_AUTO_RETRY_TIMEOUT" default:"5m"`
}
