// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// Drop policies accepted by notifier.drop_policy.
const (
	DropOldest = "drop-oldest"
	DropNew    = "drop-new"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with SYSMGMT_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Parameters:
//   - configPath: Path to the configuration file (empty uses defaults only)
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SYSMGMT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "SYSMGMT_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "SYSMGMT_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "SYSMGMT_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("server.admin_token", "ADMIN_TOKEN", "SYSMGMT_SERVER_ADMIN_TOKEN")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
			AdminToken: v.GetString("server.admin_token"),
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			DependencyFile: v.GetString("data.dependency_file"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Probe: &Probe{
			CycleInterval:   v.GetDuration("probe.cycle_interval"),
			AttemptTimeout:  v.GetDuration("probe.attempt_timeout"),
			WorkerPoolSize:  v.GetInt("probe.worker_pool_size"),
			MaxBodyBytes:    v.GetInt64("probe.max_body_bytes"),
			SnippetChars:    v.GetInt("probe.snippet_chars"),
			SlowThresholdMs: v.GetInt64("probe.slow_threshold_ms"),
			ProxyURL:        v.GetString("probe.proxy_url"),
			TierBudget: &TierDurations{
				High:   v.GetDuration("probe.tier_budget.high"),
				Medium: v.GetDuration("probe.tier_budget.medium"),
				Low:    v.GetDuration("probe.tier_budget.low"),
			},
			TierInterval: &TierDurations{
				High:   v.GetDuration("probe.tier_interval.high"),
				Medium: v.GetDuration("probe.tier_interval.medium"),
				Low:    v.GetDuration("probe.tier_interval.low"),
			},
			ManualQueueSize: v.GetInt("probe.manual_queue_size"),
			ManualWorkers:   v.GetInt("probe.manual_workers"),
		},
		CircuitBreaker: &CircuitBreaker{
			EvaluationInterval:          v.GetDuration("circuit_breaker.evaluation_interval"),
			Window:                      v.GetDuration("circuit_breaker.window"),
			CallRateThreshold:           v.GetFloat64("circuit_breaker.call_rate_threshold"),
			FailureRateThreshold:        v.GetFloat64("circuit_breaker.failure_rate_threshold"),
			ConsecutiveFailureThreshold: v.GetInt("circuit_breaker.consecutive_failure_threshold"),
			LatencyThresholdMs:          v.GetFloat64("circuit_breaker.latency_threshold_ms"),
			OpenTimeout:                 v.GetDuration("circuit_breaker.open_timeout"),
			StateTTL:                    v.GetDuration("circuit_breaker.state_ttl"),
			LocalCacheSize:              v.GetInt("circuit_breaker.local_cache_size"),
			LocalCacheTTL:               v.GetDuration("circuit_breaker.local_cache_ttl"),
			HalfOpenMaxCalls:            v.GetInt64("circuit_breaker.half_open_max_calls"),
			EvaluationConcurrency:       v.GetInt("circuit_breaker.evaluation_concurrency"),
		},
		Notifier: &Notifier{
			QueueSize:      v.GetInt("notifier.queue_size"),
			DropPolicy:     v.GetString("notifier.drop_policy"),
			WebhookURL:     v.GetString("notifier.webhook_url"),
			WebhookTimeout: v.GetDuration("notifier.webhook_timeout"),
		},
		Metrics: &Metrics{
			OTLPEndpoint: v.GetString("metrics.otlp_endpoint"),
			Interval:     v.GetDuration("metrics.interval"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)
	v.SetDefault("data.dependency_file", "configs/dependencies.yaml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("probe.cycle_interval", 120*time.Second)
	v.SetDefault("probe.attempt_timeout", 5*time.Second)
	v.SetDefault("probe.worker_pool_size", 20)
	v.SetDefault("probe.max_body_bytes", 1<<20)
	v.SetDefault("probe.snippet_chars", 500)
	v.SetDefault("probe.slow_threshold_ms", 3000)
	v.SetDefault("probe.tier_budget.high", 15*time.Second)
	v.SetDefault("probe.tier_budget.medium", 30*time.Second)
	v.SetDefault("probe.tier_budget.low", 60*time.Second)
	v.SetDefault("probe.tier_interval.high", 60*time.Second)
	v.SetDefault("probe.tier_interval.medium", 120*time.Second)
	v.SetDefault("probe.tier_interval.low", 300*time.Second)
	v.SetDefault("probe.manual_queue_size", 8)
	v.SetDefault("probe.manual_workers", 1)

	v.SetDefault("circuit_breaker.evaluation_interval", 60*time.Second)
	v.SetDefault("circuit_breaker.window", 5*time.Minute)
	v.SetDefault("circuit_breaker.call_rate_threshold", 1000)
	v.SetDefault("circuit_breaker.failure_rate_threshold", 50)
	v.SetDefault("circuit_breaker.consecutive_failure_threshold", 5)
	v.SetDefault("circuit_breaker.latency_threshold_ms", 5000)
	v.SetDefault("circuit_breaker.open_timeout", 5*time.Minute)
	v.SetDefault("circuit_breaker.state_ttl", 24*time.Hour)
	v.SetDefault("circuit_breaker.local_cache_size", 1000)
	v.SetDefault("circuit_breaker.local_cache_ttl", 30*time.Second)
	v.SetDefault("circuit_breaker.half_open_max_calls", 10)
	v.SetDefault("circuit_breaker.evaluation_concurrency", 16)

	v.SetDefault("notifier.queue_size", 256)
	v.SetDefault("notifier.drop_policy", DropOldest)
	v.SetDefault("notifier.webhook_timeout", 5*time.Second)

	v.SetDefault("metrics.interval", 30*time.Second)
}

// Validate checks that the loaded configuration is usable.
func Validate(bc *Bootstrap) error {
	if bc == nil || bc.Server == nil || bc.Data == nil || bc.Log == nil ||
		bc.Probe == nil || bc.CircuitBreaker == nil || bc.Notifier == nil {
		return fmt.Errorf("invalid configuration: missing sections")
	}

	if err := validation.ValidateStruct(bc.Log,
		validation.Field(&bc.Log.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&bc.Log.Format, validation.In("json", "console")),
	); err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}

	if err := validation.ValidateStruct(bc.Probe,
		validation.Field(&bc.Probe.CycleInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&bc.Probe.AttemptTimeout, validation.Required, validation.Min(100*time.Millisecond), validation.Max(10*time.Second)),
		validation.Field(&bc.Probe.WorkerPoolSize, validation.Required, validation.Min(1)),
		validation.Field(&bc.Probe.MaxBodyBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&bc.Probe.SnippetChars, validation.Min(0)),
		validation.Field(&bc.Probe.TierBudget, validation.Required),
		validation.Field(&bc.Probe.TierInterval, validation.Required),
		validation.Field(&bc.Probe.ManualQueueSize, validation.Required, validation.Min(1)),
		validation.Field(&bc.Probe.ManualWorkers, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("invalid probe configuration: %w", err)
	}

	cb := bc.CircuitBreaker
	if err := validation.ValidateStruct(cb,
		validation.Field(&cb.EvaluationInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&cb.Window, validation.Required, validation.Min(time.Minute)),
		validation.Field(&cb.CallRateThreshold, validation.Required, validation.Min(0.0)),
		validation.Field(&cb.FailureRateThreshold, validation.Required, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&cb.ConsecutiveFailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&cb.LatencyThresholdMs, validation.Required, validation.Min(0.0)),
		validation.Field(&cb.OpenTimeout, validation.Required),
		validation.Field(&cb.StateTTL, validation.Required),
		validation.Field(&cb.LocalCacheSize, validation.Required, validation.Min(1)),
		validation.Field(&cb.EvaluationConcurrency, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("invalid circuit_breaker configuration: %w", err)
	}

	if err := validation.ValidateStruct(bc.Notifier,
		validation.Field(&bc.Notifier.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&bc.Notifier.DropPolicy, validation.Required, validation.In(DropOldest, DropNew)),
	); err != nil {
		return fmt.Errorf("invalid notifier configuration: %w", err)
	}

	if bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
		return fmt.Errorf("missing required configuration fields: data.redis.addr (REDIS_ADDR)")
	}

	return nil
}
