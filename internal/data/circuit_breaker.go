package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// metrics hash fields
const (
	fieldPreviousState = "previous_state"
	fieldCallRate      = "call_rate"
	fieldFailureRate   = "failure_rate"
	fieldAvgLatency    = "avg_latency_ms"

	// stateClosed is what an absent state key means.
	stateClosed = "CLOSED"
)

// CircuitBreakerRepo implements biz.CircuitBreakerRepo on Redis.
//
//	circuit-breaker:state:{id}            → state name
//	circuit-breaker:state:{id}:timestamp  → RFC3339 transition time
//	circuit-breaker:state:{id}:metrics    → hash of previous state and signals
type CircuitBreakerRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewCircuitBreakerRepo creates a new circuit breaker repository
func NewCircuitBreakerRepo(d *Data, logger log.Logger) *CircuitBreakerRepo {
	return &CircuitBreakerRepo{
		rdb:    d.RedisClient(),
		logger: log.NewHelper(log.With(logger, "module", "data/circuit_breaker")),
	}
}

// Get loads the stored record, or nil when the breaker has never left CLOSED
// or its keys expired.
func (r *CircuitBreakerRepo) Get(ctx context.Context, id string) (*model.CircuitBreakerRecord, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	var stateCmd, tsCmd *redis.StringCmd
	var metricsCmd *redis.MapStringStringCmd
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		stateCmd = pipe.Get(ctx, circuitStateKey(id))
		tsCmd = pipe.Get(ctx, circuitTimestampKey(id))
		metricsCmd = pipe.HGetAll(ctx, circuitMetricsKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get circuit state %s: %w", id, err)
	}

	state, err := stateCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get circuit state %s: %w", id, err)
	}

	return buildCircuitRecord(id, state, tsCmd.Val(), metricsCmd.Val()), nil
}

// Save writes the state, timestamp and metrics keys in one MULTI/EXEC with
// the same TTL, whatever is stored.
func (r *CircuitBreakerRepo) Save(ctx context.Context, rec *model.CircuitBreakerRecord, ttl time.Duration) error {
	if r.rdb == nil {
		return ErrStoreUnavailable
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeCircuitRecord(ctx, pipe, rec, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save circuit state %s: %w", rec.DependencyID, err)
	}
	return nil
}

// CompareAndSave writes rec only while the stored state is still expected
// (a missing key counts as CLOSED). It returns false without writing when
// the state differs or another writer touched the key during the WATCH.
func (r *CircuitBreakerRepo) CompareAndSave(ctx context.Context, rec *model.CircuitBreakerRecord, expected string, ttl time.Duration) (bool, error) {
	if r.rdb == nil {
		return false, ErrStoreUnavailable
	}

	key := circuitStateKey(rec.DependencyID)
	swapped := false
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			stored = stateClosed
		} else if err != nil {
			return err
		}
		if stored != expected {
			r.logger.Debugw("msg", "circuit state moved, dropping write",
				"dependency_id", rec.DependencyID, "expected", expected, "stored", stored, "to_state", rec.State)
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeCircuitRecord(ctx, pipe, rec, ttl)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to save circuit state %s: %w", rec.DependencyID, err)
	}
	return swapped, nil
}

func writeCircuitRecord(ctx context.Context, pipe redis.Pipeliner, rec *model.CircuitBreakerRecord, ttl time.Duration) {
	id := rec.DependencyID
	metricsKey := circuitMetricsKey(id)
	pipe.Set(ctx, circuitStateKey(id), rec.State, ttl)
	pipe.Set(ctx, circuitTimestampKey(id), rec.LastTransitionAt.UTC().Format(time.RFC3339), ttl)
	pipe.Del(ctx, metricsKey)
	pipe.HSet(ctx, metricsKey,
		fieldPreviousState, rec.PreviousState,
		fieldCallRate, formatFloat(rec.CurrentCallRate),
		fieldFailureRate, formatFloat(rec.CurrentFailureRate),
		fieldAvgLatency, formatFloat(rec.CurrentAvgLatencyMs),
	)
	pipe.Expire(ctx, metricsKey, ttl)
}

// UpdateSignals refreshes the metrics hash without touching state or timestamp.
func (r *CircuitBreakerRepo) UpdateSignals(ctx context.Context, rec *model.CircuitBreakerRecord, ttl time.Duration) error {
	if r.rdb == nil {
		return ErrStoreUnavailable
	}

	metricsKey := circuitMetricsKey(rec.DependencyID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metricsKey,
			fieldCallRate, formatFloat(rec.CurrentCallRate),
			fieldFailureRate, formatFloat(rec.CurrentFailureRate),
			fieldAvgLatency, formatFloat(rec.CurrentAvgLatencyMs),
		)
		pipe.Expire(ctx, metricsKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update circuit signals %s: %w", rec.DependencyID, err)
	}
	return nil
}

// List scans every stored breaker.
func (r *CircuitBreakerRepo) List(ctx context.Context) ([]*model.CircuitBreakerRecord, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	keys, err := scanKeys(ctx, r.rdb, KeyCircuitState+":*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan circuit states: %w", err)
	}

	var ids []string
	for _, key := range keys {
		if id, ok := circuitIDFromStateKey(key); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	stateCmds := make([]*redis.StringCmd, len(ids))
	tsCmds := make([]*redis.StringCmd, len(ids))
	metricsCmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			stateCmds[i] = pipe.Get(ctx, circuitStateKey(id))
			tsCmds[i] = pipe.Get(ctx, circuitTimestampKey(id))
			metricsCmds[i] = pipe.HGetAll(ctx, circuitMetricsKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load circuit states: %w", err)
	}

	records := make([]*model.CircuitBreakerRecord, 0, len(ids))
	for i, id := range ids {
		state, err := stateCmds[i].Result()
		if err != nil {
			continue
		}
		records = append(records, buildCircuitRecord(id, state, tsCmds[i].Val(), metricsCmds[i].Val()))
	}
	return records, nil
}

// IncrHalfOpenPermits counts an admitted half-open call in the current
// minute window and returns the running total.
func (r *CircuitBreakerRepo) IncrHalfOpenPermits(ctx context.Context, id string) (int64, error) {
	if r.rdb == nil {
		return 0, ErrStoreUnavailable
	}

	key := halfOpenKey(id)
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment half-open permits %s: %w", id, err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, key, TTLHalfOpenPermits).Err(); err != nil {
			r.logger.Warnf("Failed to set half-open permit expiration for %s: %v", id, err)
		}
	}
	return count, nil
}

// ResetHalfOpenPermits clears the half-open counter.
func (r *CircuitBreakerRepo) ResetHalfOpenPermits(ctx context.Context, id string) error {
	if r.rdb == nil {
		return ErrStoreUnavailable
	}
	return r.rdb.Del(ctx, halfOpenKey(id)).Err()
}

func buildCircuitRecord(id, state, ts string, metrics map[string]string) *model.CircuitBreakerRecord {
	rec := &model.CircuitBreakerRecord{
		DependencyID:        id,
		State:               state,
		PreviousState:       metrics[fieldPreviousState],
		CurrentCallRate:     parseFloat(metrics[fieldCallRate]),
		CurrentFailureRate:  parseFloat(metrics[fieldFailureRate]),
		CurrentAvgLatencyMs: parseFloat(metrics[fieldAvgLatency]),
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		rec.LastTransitionAt = t
	}
	return rec
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
