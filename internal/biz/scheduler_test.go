package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu     sync.Mutex
	calls  map[string]int
	behave func(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome
}

func newFakeProber(behave func(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome) *fakeProber {
	return &fakeProber{calls: make(map[string]int), behave: behave}
}

func (p *fakeProber) Probe(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome {
	p.mu.Lock()
	p.calls[dep.ID]++
	p.mu.Unlock()
	return p.behave(ctx, dep)
}

func (p *fakeProber) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func healthyProbe(_ context.Context, dep *model.Dependency) *model.ProbeOutcome {
	return &model.ProbeOutcome{DependencyID: dep.ID, Provider: dep.Provider, Status: model.ProbeStatusHealthy, SampledAt: time.Now()}
}

func unhealthyProbe(_ context.Context, dep *model.Dependency) *model.ProbeOutcome {
	return &model.ProbeOutcome{DependencyID: dep.ID, Status: model.ProbeStatusUnhealthy, ErrorMessage: "HTTP 502", SampledAt: time.Now()}
}

type fakeReporter struct {
	mu      sync.Mutex
	reports map[string]int
}

func (r *fakeReporter) ReportDependencyFailure(_ context.Context, dep *model.Dependency, _ string) (*TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reports == nil {
		r.reports = make(map[string]int)
	}
	r.reports[dep.ID]++
	return nil, nil
}

type schedulerFixture struct {
	scheduler    *HealthProbeScheduler
	deps         *MockDependencyRepo
	availability *AvailabilityUsecase
	reporter     *fakeReporter
	metrics      *capturingMetrics
}

func newTestScheduler(t *testing.T, prober Prober, deps []*model.Dependency) *schedulerFixture {
	t.Helper()
	availability, _ := newTestAvailability(t)

	repo := new(MockDependencyRepo)
	repo.On("ListEnabled", mock.Anything).Return(deps, nil)

	f := &schedulerFixture{
		deps:         repo,
		availability: availability,
		reporter:     &fakeReporter{},
		metrics:      newCapturingMetrics(),
	}
	f.scheduler = NewHealthProbeScheduler(
		&conf.Probe{
			CycleInterval:  120 * time.Second,
			WorkerPoolSize: 4,
			TierBudget: &conf.TierDurations{
				High:   300 * time.Millisecond,
				Medium: time.Second,
				Low:    time.Second,
			},
		},
		&conf.CircuitBreaker{ConsecutiveFailureThreshold: 2},
		repo, prober, availability, f.reporter, f.metrics, log.DefaultLogger,
	)
	return f
}

func fleet() []*model.Dependency {
	return []*model.Dependency{
		{ID: "payment-toss", Priority: model.PriorityHigh},
		{ID: "weather-kma", Domain: "WEATHER"},
		{ID: "stats-kosis", Tags: []string{"BATCH"}},
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	prober := newFakeProber(healthyProbe)
	f := newTestScheduler(t, prober, fleet())

	report, err := f.scheduler.RunOnce(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, TriggerScheduled, report.Trigger)
	assert.Len(t, report.CycleID, 10)
	assert.Len(t, report.Outcomes, 3)
	assert.Equal(t, 3, report.Count(model.ProbeStatusHealthy))
	assert.Zero(t, report.Skipped)
	require.Len(t, report.Tiers, 3)
	assert.Equal(t, model.PriorityHigh, report.Tiers[0].Priority)
	assert.Equal(t, model.PriorityLow, report.Tiers[2].Priority)
	assert.Equal(t, 3, f.metrics.probeCount())
	f.deps.AssertExpectations(t)
}

func TestScheduler_PartialTimeoutCycle(t *testing.T) {
	prober := newFakeProber(func(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome {
		if dep.ID == "hangs" {
			<-ctx.Done()
			return unhealthyProbe(ctx, dep)
		}
		return healthyProbe(ctx, dep)
	})
	deps := []*model.Dependency{
		{ID: "a", Priority: model.PriorityHigh},
		{ID: "hangs", Priority: model.PriorityHigh},
		{ID: "b", Priority: model.PriorityHigh},
	}
	f := newTestScheduler(t, prober, deps)

	start := time.Now()
	report, err := f.scheduler.RunOnce(context.Background(), false)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, report.Outcomes, 2)
	require.Len(t, report.Tiers, 1)
	assert.Equal(t, 3, report.Tiers[0].Scheduled)
	assert.Equal(t, 2, report.Tiers[0].Completed)
	assert.Equal(t, 1, report.Tiers[0].Abandoned)
	for _, o := range report.Outcomes {
		assert.NotEqual(t, "hangs", o.DependencyID)
	}
	// abandoned probes are not committed
	assert.True(t, f.availability.IsAvailable(context.Background(), "hangs"))
}

func TestScheduler_CollectKeepsBufferedOutcomesAtDeadline(t *testing.T) {
	f := newTestScheduler(t, newFakeProber(healthyProbe), nil)

	deps := fleet()
	results := make(chan tierResult, len(deps)+1)
	for _, dep := range deps {
		results <- tierResult{dep: dep, outcome: healthyProbe(context.Background(), dep)}
	}
	deadline, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := f.scheduler.collect(context.Background(), deadline, results, len(deps)+1)
	assert.Len(t, outcomes, len(deps), "finished outcomes survive the deadline")
	assert.Equal(t, len(deps), f.metrics.probeCount())
}

func TestScheduler_DueCheck(t *testing.T) {
	prober := newFakeProber(healthyProbe)
	f := newTestScheduler(t, prober, fleet())
	now := time.Now()
	f.scheduler.now = func() time.Time { return now }

	_, err := f.scheduler.RunOnce(context.Background(), false)
	require.NoError(t, err)

	// HIGH is due every cycle, MEDIUM after 60s, LOW after 240s
	now = now.Add(61 * time.Second)
	report, err := f.scheduler.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, prober.count("payment-toss"))
	assert.Equal(t, 2, prober.count("weather-kma"))
	assert.Equal(t, 1, prober.count("stats-kosis"))

	// a manual run ignores the due check
	report, err = f.scheduler.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, report.Trigger)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 2, prober.count("stats-kosis"))
}

func TestScheduler_PanicBecomesUnknown(t *testing.T) {
	prober := newFakeProber(func(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome {
		if dep.ID == "weather-kma" {
			panic("nil map")
		}
		return healthyProbe(ctx, dep)
	})
	f := newTestScheduler(t, prober, fleet())

	report, err := f.scheduler.RunOnce(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, 1, report.Count(model.ProbeStatusUnknown))
	assert.False(t, f.availability.IsAvailable(context.Background(), "weather-kma"))
	assert.True(t, f.availability.IsAvailable(context.Background(), "payment-toss"))
}

func TestScheduler_ReportsDependencyFailure(t *testing.T) {
	prober := newFakeProber(unhealthyProbe)
	f := newTestScheduler(t, prober, []*model.Dependency{{ID: "news-naver"}})
	ctx := context.Background()

	_, err := f.scheduler.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, f.reporter.reports["news-naver"])

	_, err = f.scheduler.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.reporter.reports["news-naver"])

	rec, err := f.availability.GetRecord(ctx, "news-naver")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConsecutiveFailures)
}

func TestScheduler_SkipsInFlightDependency(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	prober := newFakeProber(func(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome {
		once.Do(func() { close(started) })
		<-release
		return healthyProbe(ctx, dep)
	})
	f := newTestScheduler(t, prober, []*model.Dependency{{ID: "weather-kma", Priority: model.PriorityLow}})

	first := make(chan *CycleReport, 1)
	go func() {
		report, _ := f.scheduler.RunOnce(context.Background(), true)
		first <- report
	}()
	<-started

	report, err := f.scheduler.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Outcomes)

	close(release)
	assert.Len(t, (<-first).Outcomes, 1)
	assert.Equal(t, 1, prober.count("weather-kma"))
}

func TestScheduler_DependencySourceError(t *testing.T) {
	repo := new(MockDependencyRepo)
	repo.On("ListEnabled", mock.Anything).Return(nil, errors.New("registry down"))
	availability, _ := newTestAvailability(t)
	s := NewHealthProbeScheduler(&conf.Probe{}, &conf.CircuitBreaker{}, repo, newFakeProber(healthyProbe),
		availability, nil, newCapturingMetrics(), log.DefaultLogger)

	_, err := s.RunOnce(context.Background(), false)
	assert.ErrorContains(t, err, "registry down")
}
