package model

import "time"

// ProbeStatus is the classified result of a single probe.
type ProbeStatus string

const (
	ProbeStatusHealthy   ProbeStatus = "HEALTHY"
	ProbeStatusDegraded  ProbeStatus = "DEGRADED"
	ProbeStatusUnhealthy ProbeStatus = "UNHEALTHY"
	ProbeStatusTimeout   ProbeStatus = "TIMEOUT"
	ProbeStatusUnknown   ProbeStatus = "UNKNOWN"
)

// IsSuccess reports whether the status counts as available.
func (s ProbeStatus) IsSuccess() bool {
	return s == ProbeStatusHealthy || s == ProbeStatusDegraded
}

// CheckType identifies the probing strategy used.
type CheckType string

const (
	CheckTypeStatic  CheckType = "static"
	CheckTypeDynamic CheckType = "dynamic"
)

// ProbeOutcome is created once per probe and never mutated afterwards.
type ProbeOutcome struct {
	DependencyID   string      `json:"dependency_id"`
	Provider       string      `json:"provider,omitempty"`
	Status         ProbeStatus `json:"status"`
	HTTPStatusCode int         `json:"http_status_code,omitempty"`
	LatencyMs      int64       `json:"latency_ms"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	SampledAt      time.Time   `json:"sampled_at"`
	IsTimeout      bool        `json:"is_timeout"`
	CheckType      CheckType   `json:"check_type"`
	Endpoint       string      `json:"endpoint,omitempty"`
}

// AvailabilityRecord is the cache entry kept for an unhealthy dependency.
// A missing record means the dependency is available.
type AvailabilityRecord struct {
	DependencyID        string      `json:"dependency_id"`
	Status              ProbeStatus `json:"status"`
	ErrorMessage        string      `json:"error,omitempty"`
	LatencyMs           int64       `json:"latency_ms"`
	HTTPStatusCode      int         `json:"http_status_code,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	FirstFailureAt      time.Time   `json:"first_failure_at"`
	LastProbeAt         time.Time   `json:"last_probe_at"`
	CheckType           CheckType   `json:"check_type"`
	// TTLSeconds is the remaining lifetime, filled on read.
	TTLSeconds int64 `json:"ttl_seconds"`
}

// FailureStatistics summarises the currently unhealthy dependencies.
type FailureStatistics struct {
	StoreAccessible bool                  `json:"store_accessible"`
	TotalUnhealthy  int                   `json:"total_unhealthy"`
	ByStatus        map[ProbeStatus]int   `json:"by_status"`
	ChronicFailures int                   `json:"chronic_failures"`
	Records         []*AvailabilityRecord `json:"records"`
	GeneratedAt     time.Time             `json:"generated_at"`
}
