package model

import "time"

// CircuitBreakerRecord is the last known breaker state of a dependency.
type CircuitBreakerRecord struct {
	DependencyID        string    `json:"dependency_id"`
	State               string    `json:"state"`
	PreviousState       string    `json:"previous_state,omitempty"`
	LastTransitionAt    time.Time `json:"last_transition_at"`
	CurrentCallRate     float64   `json:"current_call_rate"`
	CurrentFailureRate  float64   `json:"current_failure_rate"`
	CurrentAvgLatencyMs float64   `json:"current_avg_latency_ms"`
}

// CallStats is a sliding-window aggregate of calls made to a dependency.
type CallStats struct {
	DependencyID        string  `json:"dependency_id"`
	TotalCalls          int     `json:"total_calls"`
	CallsPerMinute      float64 `json:"calls_per_minute"`
	SuccessRate         float64 `json:"success_rate"`
	FailureRate         float64 `json:"failure_rate"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	FailureCount        int     `json:"failure_count"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// StateTransitionEvent is emitted once per breaker transition.
type StateTransitionEvent struct {
	ID                         string    `json:"id"`
	DependencyID               string    `json:"dependency_id"`
	DependencyName             string    `json:"dependency_name,omitempty"`
	Provider                   string    `json:"provider,omitempty"`
	FromState                  string    `json:"from_state"`
	ToState                    string    `json:"to_state"`
	Trigger                    string    `json:"trigger"`
	Reason                     string    `json:"reason"`
	Severity                   string    `json:"severity"`
	AutoRecoverable            bool      `json:"auto_recoverable"`
	RequiresManualIntervention bool      `json:"requires_manual_intervention"`
	EmittedAt                  time.Time `json:"emitted_at"`
}
