package data

import (
	"strings"
	"time"
)

// Key prefixes of everything this service stores in Redis.
const (
	// KeyUnhealthy is unhealthy:{id}; absence means available.
	KeyUnhealthy = "unhealthy"
	// KeyCircuitState is circuit-breaker:state:{id}, with :timestamp and :metrics siblings.
	KeyCircuitState = "circuit-breaker:state"
	// KeyCircuitCalls is circuit-breaker:calls:{id}, a sorted set of the latest
	// call samples, with a :buckets hash of per-second counters.
	KeyCircuitCalls = "circuit-breaker:calls"
	// KeyHalfOpenPermits is circuit-breaker:half-open:{id}, a per-minute counter.
	KeyHalfOpenPermits = "circuit-breaker:half-open"
)

const (
	suffixTimestamp = "timestamp"
	suffixMetrics   = "metrics"
	suffixBuckets   = "buckets"
)

// TTLHalfOpenPermits is the window of the half-open admission counter.
const TTLHalfOpenPermits = time.Minute

// BuildKey constructs a key with the appropriate prefix.
//   - BuildKey(KeyUnhealthy, "kma") -> "unhealthy:kma"
//   - BuildKey(KeyCircuitState, "kma", "timestamp") -> "circuit-breaker:state:kma:timestamp"
func BuildKey(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, part := range parts {
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

func unhealthyKey(id string) string { return BuildKey(KeyUnhealthy, id) }

func circuitStateKey(id string) string { return BuildKey(KeyCircuitState, id) }

func circuitTimestampKey(id string) string { return BuildKey(KeyCircuitState, id, suffixTimestamp) }

func circuitMetricsKey(id string) string { return BuildKey(KeyCircuitState, id, suffixMetrics) }

func circuitCallsKey(id string) string { return BuildKey(KeyCircuitCalls, id) }

func circuitBucketsKey(id string) string { return BuildKey(KeyCircuitCalls, id, suffixBuckets) }

func halfOpenKey(id string) string { return BuildKey(KeyHalfOpenPermits, id) }

// circuitIDFromStateKey extracts {id} from a state key. Sibling keys report ok=false.
func circuitIDFromStateKey(key string) (string, bool) {
	id := strings.TrimPrefix(key, KeyCircuitState+":")
	if id == key || id == "" {
		return "", false
	}
	if strings.HasSuffix(id, ":"+suffixTimestamp) || strings.HasSuffix(id, ":"+suffixMetrics) {
		return "", false
	}
	return id, true
}
