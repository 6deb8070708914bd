package breaker

import (
	"fmt"
	"strings"
	"time"
)

// rule computes the next state for one source state.
type rule func(c conditions, s Signals, t Thresholds) State

var rules = map[State]rule{
	Closed: func(c conditions, _ Signals, _ Thresholds) State {
		switch {
		case c.combined():
			return Open
		case c.any():
			return Degraded
		}
		return Closed
	},
	Degraded: func(c conditions, _ Signals, _ Thresholds) State {
		switch {
		case c.combined():
			return Open
		case !c.any():
			return Closed
		}
		return Degraded
	},
	Open: func(_ conditions, s Signals, t Thresholds) State {
		if s.SinceTransition >= t.OpenTimeout {
			return HalfOpen
		}
		return Open
	},
	HalfOpen: func(c conditions, _ Signals, _ Thresholds) State {
		switch {
		case !c.highFailure && !c.slow:
			return Closed
		case c.highFailure:
			return Open
		}
		return HalfOpen
	},
	ForceOpen: func(conditions, Signals, Thresholds) State {
		return ForceOpen
	},
}

// Next returns the state that follows current for the given signals. Unknown
// states are treated as CLOSED.
func Next(current State, s Signals, t Thresholds) State {
	r, ok := rules[current]
	if !ok {
		r = rules[Closed]
	}
	return r(t.check(s), s, t)
}

// Transition describes one evaluated step of the machine.
type Transition struct {
	From                       State
	To                         State
	Trigger                    Trigger
	Severity                   Severity
	Reason                     string
	AutoRecoverable            bool
	RequiresManualIntervention bool
}

// Changed reports whether the step moved to a different state.
func (tr Transition) Changed() bool { return tr.From != tr.To }

// Evaluate runs Next and, when the state changes, classifies the transition.
func Evaluate(current State, s Signals, t Thresholds) Transition {
	if _, ok := rules[current]; !ok {
		current = Closed
	}
	next := Next(current, s, t)
	tr := Transition{From: current, To: next}
	if !tr.Changed() {
		return tr
	}

	tr.Trigger = Classify(current, next, s, t)
	tr.Reason = describe(tr.Trigger, current, next, s, t)
	tr.Severity = SeverityOf(next, tr.Trigger)
	tr.AutoRecoverable, tr.RequiresManualIntervention = Flags(next, tr.Trigger)
	return tr
}

// Manual builds the MANUAL_OVERRIDE transition used by administrative overrides.
func Manual(from, to State, reason string) Transition {
	if reason == "" {
		reason = fmt.Sprintf("manual override %s -> %s", from, to)
	}
	tr := Transition{
		From:    from,
		To:      to,
		Trigger: TriggerManualOverride,
		Reason:  reason,
	}
	tr.Severity = SeverityOf(to, tr.Trigger)
	tr.AutoRecoverable, tr.RequiresManualIntervention = Flags(to, tr.Trigger)
	return tr
}

// DependencyFailure trips a CLOSED or DEGRADED breaker to OPEN after the
// dependency itself was found down. Other states are left untouched.
func DependencyFailure(from State, reason string) Transition {
	tr := Transition{From: from, To: from}
	if from != Closed && from != Degraded {
		return tr
	}
	tr.To = Open
	tr.Trigger = TriggerDependencyFailure
	tr.Reason = reason
	tr.Severity = SeverityOf(Open, tr.Trigger)
	tr.AutoRecoverable, tr.RequiresManualIntervention = Flags(Open, tr.Trigger)
	return tr
}

// Classify picks the trigger of a threshold-driven transition. Checks run in
// priority order; AUTO_RECOVERY is the fallback when nothing is breached.
func Classify(from, to State, s Signals, t Thresholds) Trigger {
	if from == Open && to == HalfOpen {
		return TriggerAutoRecovery
	}
	c := t.check(s)
	switch {
	case s.CallRate > 2*t.CallRate:
		return TriggerExcessiveCalls
	case c.highFailure:
		return TriggerHighFailureRate
	case c.slow:
		return TriggerSlowResponse
	case t.ConsecutiveFailures > 0 && s.ConsecutiveFailures >= t.ConsecutiveFailures:
		return TriggerConsecutiveFailures
	case c.excessiveCalls:
		return TriggerExcessiveCalls
	}
	return TriggerAutoRecovery
}

// SeverityOf grades a transition into to caused by trigger.
func SeverityOf(to State, trigger Trigger) Severity {
	switch to {
	case ForceOpen:
		return SeverityEmergency
	case Open:
		if trigger == TriggerDependencyFailure || trigger == TriggerExcessiveCalls {
			return SeverityCritical
		}
		return SeverityHigh
	case Degraded, HalfOpen:
		return SeverityMedium
	}
	return SeverityLow
}

// Flags returns (autoRecoverable, requiresManualIntervention).
func Flags(to State, trigger Trigger) (bool, bool) {
	if to == ForceOpen || trigger == TriggerDependencyFailure {
		return false, true
	}
	if trigger == TriggerManualOverride {
		return false, false
	}
	return true, false
}

func describe(trigger Trigger, from, to State, s Signals, t Thresholds) string {
	var parts []string
	if s.CallRate > t.CallRate {
		parts = append(parts, fmt.Sprintf("call rate %.1f/min exceeds %.0f/min", s.CallRate, t.CallRate))
	}
	if s.FailureRate > t.FailureRate {
		parts = append(parts, fmt.Sprintf("failure rate %.1f%% exceeds %.0f%%", s.FailureRate, t.FailureRate))
	}
	if s.AvgLatencyMs > t.LatencyMs {
		parts = append(parts, fmt.Sprintf("avg latency %.0fms exceeds %.0fms", s.AvgLatencyMs, t.LatencyMs))
	}
	if t.ConsecutiveFailures > 0 && s.ConsecutiveFailures >= t.ConsecutiveFailures {
		parts = append(parts, fmt.Sprintf("%d consecutive failures", s.ConsecutiveFailures))
	}
	if from == Open && to == HalfOpen {
		parts = []string{fmt.Sprintf("open for %s, probing recovery", s.SinceTransition.Truncate(time.Second))}
	}
	if len(parts) == 0 {
		parts = append(parts, "all signals within thresholds")
	}
	return fmt.Sprintf("%s: %s -> %s (%s)", trigger, from, to, strings.Join(parts, "; "))
}
