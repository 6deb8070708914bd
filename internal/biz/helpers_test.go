package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/data"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestData(t *testing.T) (*data.Data, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	d, cleanup, err := data.NewData(nil, log.DefaultLogger, rdb, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return d, mr
}

// MockDependencyRepo is a mock implementation of DependencyRepo for testing.
type MockDependencyRepo struct {
	mock.Mock
}

func (m *MockDependencyRepo) ListEnabled(ctx context.Context) ([]*model.Dependency, error) {
	args := m.Called(ctx)
	deps, _ := args.Get(0).([]*model.Dependency)
	return deps, args.Error(1)
}

func (m *MockDependencyRepo) Get(ctx context.Context, id string) (*model.Dependency, error) {
	args := m.Called(ctx, id)
	dep, _ := args.Get(0).(*model.Dependency)
	return dep, args.Error(1)
}

// MockCallStatsRepo is a mock implementation of CallStatsRepo for testing.
type MockCallStatsRepo struct {
	mock.Mock
}

func (m *MockCallStatsRepo) Record(ctx context.Context, id string, success bool, latencyMs int64, at time.Time, window time.Duration) error {
	args := m.Called(ctx, id, success, latencyMs, at, window)
	return args.Error(0)
}

func (m *MockCallStatsRepo) Sample(ctx context.Context, id string, window time.Duration, now time.Time) (*model.CallStats, error) {
	args := m.Called(ctx, id, window, now)
	stats, _ := args.Get(0).(*model.CallStats)
	return stats, args.Error(1)
}

type capturingNotifier struct {
	mu     sync.Mutex
	events []*model.StateTransitionEvent
}

func (n *capturingNotifier) Notify(e *model.StateTransitionEvent) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *capturingNotifier) Events() []*model.StateTransitionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*model.StateTransitionEvent(nil), n.events...)
}

type probeRecord struct {
	id      string
	success bool
}

type capturingMetrics struct {
	mu          sync.Mutex
	probes      []probeRecord
	samples     map[string]string
	transitions int
}

func newCapturingMetrics() *capturingMetrics {
	return &capturingMetrics{samples: make(map[string]string)}
}

func (m *capturingMetrics) RecordProbe(_ context.Context, id, _ string, success bool, _ int64) {
	m.mu.Lock()
	m.probes = append(m.probes, probeRecord{id: id, success: success})
	m.mu.Unlock()
}

func (m *capturingMetrics) RecordCircuitSample(_ context.Context, id, state string, _, _, _ float64) {
	m.mu.Lock()
	m.samples[id] = state
	m.mu.Unlock()
}

func (m *capturingMetrics) RecordTransition(context.Context, string, string, string, string) {
	m.mu.Lock()
	m.transitions++
	m.mu.Unlock()
}

func (m *capturingMetrics) probeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.probes)
}

// blockingMetrics parks the first RecordCircuitSample call until release is
// closed, holding an evaluation between its state read and its write.
type blockingMetrics struct {
	*capturingMetrics
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingMetrics() *blockingMetrics {
	return &blockingMetrics{
		capturingMetrics: newCapturingMetrics(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
}

func (m *blockingMetrics) RecordCircuitSample(ctx context.Context, id, state string, rate, failure, latency float64) {
	m.capturingMetrics.RecordCircuitSample(ctx, id, state, rate, failure, latency)
	m.once.Do(func() {
		close(m.entered)
		<-m.release
	})
}
