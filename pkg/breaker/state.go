package breaker

import (
	"strings"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	Closed    State = "CLOSED"
	Degraded  State = "DEGRADED"
	Open      State = "OPEN"
	HalfOpen  State = "HALF_OPEN"
	ForceOpen State = "FORCE_OPEN"
)

// States lists every state in declaration order.
var States = []State{Closed, Degraded, Open, HalfOpen, ForceOpen}

// ParseState parses a state name case-insensitively.
func ParseState(s string) (State, bool) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range States {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// AllowsCalls reports whether calls are admitted in the state. HALF_OPEN
// admits calls subject to a separate probation limit.
func (s State) AllowsCalls() bool {
	return s == Closed || s == Degraded || s == HalfOpen
}

func (s State) String() string { return string(s) }

// Trigger explains why a transition happened.
type Trigger string

const (
	TriggerExcessiveCalls      Trigger = "EXCESSIVE_CALLS"
	TriggerHighFailureRate     Trigger = "HIGH_FAILURE_RATE"
	TriggerSlowResponse        Trigger = "SLOW_RESPONSE"
	TriggerConsecutiveFailures Trigger = "CONSECUTIVE_FAILURES"
	TriggerAutoRecovery        Trigger = "AUTO_RECOVERY"
	TriggerManualOverride      Trigger = "MANUAL_OVERRIDE"
	TriggerDependencyFailure   Trigger = "DEPENDENCY_FAILURE"
)

// Severity grades a transition for alerting.
type Severity string

const (
	SeverityLow       Severity = "LOW"
	SeverityMedium    Severity = "MEDIUM"
	SeverityHigh      Severity = "HIGH"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// Thresholds configures when signals count as breaches.
type Thresholds struct {
	// CallRate is the calls-per-minute limit.
	CallRate float64
	// FailureRate is a percentage in [0, 100].
	FailureRate         float64
	ConsecutiveFailures int
	LatencyMs           float64
	// OpenTimeout is how long OPEN lasts before HALF_OPEN is tried.
	OpenTimeout time.Duration
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CallRate:            1000,
		FailureRate:         50,
		ConsecutiveFailures: 5,
		LatencyMs:           5000,
		OpenTimeout:         5 * time.Minute,
	}
}

// Signals is one evaluation window worth of observations.
type Signals struct {
	CallRate            float64
	FailureRate         float64
	AvgLatencyMs        float64
	ConsecutiveFailures int
	// SinceTransition is the time spent in the current state.
	SinceTransition time.Duration
}

type conditions struct {
	excessiveCalls bool
	highFailure    bool
	slow           bool
}

func (c conditions) combined() bool { return c.excessiveCalls && c.highFailure }

func (c conditions) any() bool { return c.excessiveCalls || c.highFailure || c.slow }

func (t Thresholds) check(s Signals) conditions {
	return conditions{
		excessiveCalls: s.CallRate > t.CallRate,
		highFailure:    s.FailureRate > t.FailureRate,
		slow:           s.AvgLatencyMs > t.LatencyMs,
	}
}
