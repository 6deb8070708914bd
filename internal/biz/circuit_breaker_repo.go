package biz

import (
	"context"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
)

// CircuitBreakerRepo persists breaker state.
// Implementation is in data layer (data.CircuitBreakerRepo).
type CircuitBreakerRepo interface {
	Get(ctx context.Context, id string) (*model.CircuitBreakerRecord, error)
	Save(ctx context.Context, rec *model.CircuitBreakerRecord, ttl time.Duration) error
	// CompareAndSave writes rec only if the stored state still equals expected.
	CompareAndSave(ctx context.Context, rec *model.CircuitBreakerRecord, expected string, ttl time.Duration) (bool, error)
	UpdateSignals(ctx context.Context, rec *model.CircuitBreakerRecord, ttl time.Duration) error
	List(ctx context.Context) ([]*model.CircuitBreakerRecord, error)
	IncrHalfOpenPermits(ctx context.Context, id string) (int64, error)
	ResetHalfOpenPermits(ctx context.Context, id string) error
}

// CallStatsRepo keeps the sliding window of observed calls.
// Implementation is in data layer (data.CallStatsRepo).
type CallStatsRepo interface {
	Record(ctx context.Context, id string, success bool, latencyMs int64, at time.Time, window time.Duration) error
	Sample(ctx context.Context, id string, window time.Duration, now time.Time) (*model.CallStats, error)
}
