package conf

import "time"

// Bootstrap is the root configuration of the service.
type Bootstrap struct {
	Server         *Server
	Data           *Data
	Log            *Log
	Probe          *Probe
	CircuitBreaker *CircuitBreaker
	Notifier       *Notifier
	Metrics        *Metrics
}

// Server holds the admin HTTP server settings.
type Server struct {
	HTTP *HTTP
	// AdminToken, when set, is required as a bearer token on every admin request.
	AdminToken string
}

// HTTP is a listener configuration.
type HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds store and dependency-source settings.
type Data struct {
	Database *Database
	Redis    *Redis
	// DependencyFile is a YAML fleet definition used when no database is configured.
	DependencyFile string
}

// Database configures the MySQL dependency source. An empty Source disables it.
type Database struct {
	Driver string
	Source string
}

// Redis configures the availability and circuit-breaker store.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Log configures zap output.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Probe configures the health probe scheduler and executor.
type Probe struct {
	CycleInterval   time.Duration
	AttemptTimeout  time.Duration
	WorkerPoolSize  int
	MaxBodyBytes    int64
	SnippetChars    int
	SlowThresholdMs int64
	ProxyURL        string
	TierBudget      *TierDurations
	TierInterval    *TierDurations
	// ManualQueueSize bounds pending one-shot runs requested through the admin API.
	ManualQueueSize int
	ManualWorkers   int
}

// TierDurations holds one duration per priority tier.
type TierDurations struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

// CircuitBreaker configures the breaker engine.
type CircuitBreaker struct {
	EvaluationInterval          time.Duration
	Window                      time.Duration
	CallRateThreshold           float64
	FailureRateThreshold        float64
	ConsecutiveFailureThreshold int
	LatencyThresholdMs          float64
	OpenTimeout                 time.Duration
	StateTTL                    time.Duration
	LocalCacheSize              int
	LocalCacheTTL               time.Duration
	HalfOpenMaxCalls            int64
	EvaluationConcurrency       int
}

// Notifier configures transition event delivery.
type Notifier struct {
	QueueSize      int
	DropPolicy     string
	WebhookURL     string
	WebhookTimeout time.Duration
}

// Metrics configures the OpenTelemetry meter provider. An empty endpoint keeps
// metrics in-process only.
type Metrics struct {
	OTLPEndpoint string
	Interval     time.Duration
}
