package biz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/breaker"
	pkglog "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidState is returned by ForceState for an unknown target state.
var ErrInvalidState = errors.New("biz: invalid circuit breaker state")

const (
	defaultWindow           = 5 * time.Minute
	defaultStateTTL         = 24 * time.Hour
	defaultLocalCacheSize   = 1000
	defaultLocalCacheTTL    = 30 * time.Second
	defaultHalfOpenMaxCalls = 10
	defaultEvalConcurrency  = 16
)

// TransitionResult is the outcome of a state change. Persisted is false when
// the store rejected the write; the change still took effect locally and is
// pinned in memory, without expiry, until a later write reaches the store.
type TransitionResult struct {
	Record    *model.CircuitBreakerRecord  `json:"record"`
	Event     *model.StateTransitionEvent `json:"event"`
	Persisted bool                        `json:"persisted"`
}

// CircuitStates is the admin view of every known breaker.
type CircuitStates struct {
	StoreAccessible bool                          `json:"store_accessible"`
	States          []*model.CircuitBreakerRecord `json:"states"`
	GeneratedAt     time.Time                     `json:"generated_at"`
}

// EvaluationReport summarises one EvaluateAll pass.
type EvaluationReport struct {
	Evaluated   int `json:"evaluated"`
	Transitions int `json:"transitions"`
	Failed      int `json:"failed"`
}

// CircuitBreakerUsecase drives the breaker state machine: it samples call
// statistics, persists state changes and emits transition events.
type CircuitBreakerUsecase struct {
	repo     CircuitBreakerRepo
	stats    CallStatsRepo
	deps     DependencyRepo
	notifier EventNotifier
	metrics  MetricsRecorder

	thresholds  breaker.Thresholds
	window      time.Duration
	stateTTL    time.Duration
	halfOpenMax int64
	concurrency int

	cache     *expirable.LRU[string, model.CircuitBreakerRecord]
	cacheSize int
	locks     keyLocks

	// pending holds transitions the store rejected, keyed by dependency id.
	pendingMu sync.Mutex
	pending   map[string]model.CircuitBreakerRecord

	hits      atomic.Int64
	misses    atomic.Int64

	logger *pkglog.LogHelper
	now    func() time.Time
}

// NewCircuitBreakerUsecase creates the breaker engine.
func NewCircuitBreakerUsecase(
	c *conf.CircuitBreaker,
	repo CircuitBreakerRepo,
	stats CallStatsRepo,
	deps DependencyRepo,
	notifier EventNotifier,
	metrics MetricsRecorder,
	logger log.Logger,
) *CircuitBreakerUsecase {
	th := breaker.DefaultThresholds()
	if c.CallRateThreshold > 0 {
		th.CallRate = c.CallRateThreshold
	}
	if c.FailureRateThreshold > 0 {
		th.FailureRate = c.FailureRateThreshold
	}
	if c.ConsecutiveFailureThreshold > 0 {
		th.ConsecutiveFailures = c.ConsecutiveFailureThreshold
	}
	if c.LatencyThresholdMs > 0 {
		th.LatencyMs = c.LatencyThresholdMs
	}
	if c.OpenTimeout > 0 {
		th.OpenTimeout = c.OpenTimeout
	}

	uc := &CircuitBreakerUsecase{
		repo:        repo,
		stats:       stats,
		deps:        deps,
		notifier:    notifier,
		metrics:     metrics,
		thresholds:  th,
		window:      orDuration(c.Window, defaultWindow),
		stateTTL:    orDuration(c.StateTTL, defaultStateTTL),
		halfOpenMax: c.HalfOpenMaxCalls,
		concurrency: c.EvaluationConcurrency,
		cacheSize:   c.LocalCacheSize,
		pending:     make(map[string]model.CircuitBreakerRecord),
		logger:      pkglog.NewLogHelper(log.With(logger, "module", "biz/circuit_breaker")),
		now:         time.Now,
	}
	if uc.halfOpenMax <= 0 {
		uc.halfOpenMax = defaultHalfOpenMaxCalls
	}
	if uc.concurrency <= 0 {
		uc.concurrency = defaultEvalConcurrency
	}
	if uc.cacheSize <= 0 {
		uc.cacheSize = defaultLocalCacheSize
	}
	uc.cache = expirable.NewLRU[string, model.CircuitBreakerRecord](uc.cacheSize, nil, orDuration(c.LocalCacheTTL, defaultLocalCacheTTL))
	return uc
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Thresholds returns the limits in effect.
func (uc *CircuitBreakerUsecase) Thresholds() breaker.Thresholds {
	return uc.thresholds
}

// GetState returns the current breaker record, CLOSED when none is stored.
// Store errors fail open to CLOSED.
func (uc *CircuitBreakerUsecase) GetState(ctx context.Context, id string) *model.CircuitBreakerRecord {
	if rec, ok := uc.pendingRecord(id); ok {
		return &rec
	}
	if rec, ok := uc.cache.Get(id); ok {
		uc.hits.Add(1)
		return &rec
	}
	uc.misses.Add(1)

	rec, err := uc.repo.Get(ctx, id)
	if err != nil {
		uc.logger.Degraded("failed to read circuit state, assuming CLOSED", err, "dependency_id", id)
		return closedRecord(id)
	}
	if rec == nil {
		rec = closedRecord(id)
	}
	if _, ok := breaker.ParseState(rec.State); !ok {
		uc.logger.Warnw("msg", "unknown stored circuit state, assuming CLOSED", "dependency_id", id, "state", rec.State)
		rec.State = string(breaker.Closed)
	}
	uc.cache.Add(id, *rec)
	return rec
}

func closedRecord(id string) *model.CircuitBreakerRecord {
	return &model.CircuitBreakerRecord{DependencyID: id, State: string(breaker.Closed)}
}

// EvaluateAll evaluates every enabled dependency with bounded concurrency.
func (uc *CircuitBreakerUsecase) EvaluateAll(ctx context.Context) (*EvaluationReport, error) {
	deps, err := uc.deps.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	uc.flushPending(ctx)

	var transitions, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for _, dep := range deps {
		dep := dep
		g.Go(func() error {
			res, err := uc.Evaluate(gctx, dep)
			switch {
			case err != nil:
				failed.Add(1)
			case res != nil:
				transitions.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &EvaluationReport{
		Evaluated:   len(deps),
		Transitions: int(transitions.Load()),
		Failed:      int(failed.Load()),
	}
	uc.logger.Infow("msg", "Circuit breaker evaluation completed",
		"evaluated", report.Evaluated,
		"transitions", report.Transitions,
		"failed", report.Failed,
	)
	uc.logger.CacheStats("circuit_states", uc.cache.Len(), uc.cacheSize, uc.hits.Load(), uc.misses.Load())
	return report, nil
}

// Evaluate samples dep's call window and applies the state machine. It
// returns nil when the state did not change.
func (uc *CircuitBreakerUsecase) Evaluate(ctx context.Context, dep *model.Dependency) (*TransitionResult, error) {
	now := uc.now()
	stats, err := uc.stats.Sample(ctx, dep.ID, uc.window, now)
	if err != nil {
		uc.logger.Degraded("failed to sample call statistics", err, "dependency_id", dep.ID)
		return nil, err
	}

	unlock := uc.locks.lock(dep.ID)
	defer unlock()
	uc.persistPinned(ctx, dep.ID)

	current := uc.GetState(ctx, dep.ID)
	state, _ := breaker.ParseState(current.State)
	signals := breaker.Signals{
		CallRate:            stats.CallsPerMinute,
		FailureRate:         stats.FailureRate,
		AvgLatencyMs:        stats.AvgLatencyMs,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		SinceTransition:     sinceTransition(current, now),
	}

	tr := breaker.Evaluate(state, signals, uc.thresholds)
	uc.metrics.RecordCircuitSample(ctx, dep.ID, string(tr.To), signals.CallRate, signals.FailureRate, signals.AvgLatencyMs)

	if !tr.Changed() {
		if state != breaker.Closed {
			current.CurrentCallRate = signals.CallRate
			current.CurrentFailureRate = signals.FailureRate
			current.CurrentAvgLatencyMs = signals.AvgLatencyMs
			if err := uc.repo.UpdateSignals(ctx, current, uc.stateTTL); err != nil {
				uc.logger.Degraded("failed to refresh circuit signals", err, "dependency_id", dep.ID)
			} else {
				uc.cache.Remove(dep.ID)
			}
		}
		return nil, nil
	}
	return uc.apply(ctx, dep, tr, signals, true), nil
}

// sinceTransition treats a missing timestamp as long ago so an OPEN breaker
// whose timestamp key vanished still recovers.
func sinceTransition(rec *model.CircuitBreakerRecord, now time.Time) time.Duration {
	if rec.LastTransitionAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(rec.LastTransitionAt)
}

// ForceState moves a breaker to state regardless of its signals. It is the
// only way into or out of FORCE_OPEN and always emits a MANUAL_OVERRIDE event.
func (uc *CircuitBreakerUsecase) ForceState(ctx context.Context, id, name, provider, state, reason string) (*TransitionResult, error) {
	target, ok := breaker.ParseState(state)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	dep := &model.Dependency{ID: id, Name: name, Provider: provider}
	if name == "" || provider == "" {
		if known, err := uc.deps.Get(ctx, id); err == nil && known != nil {
			if dep.Name == "" {
				dep.Name = known.Name
			}
			if dep.Provider == "" {
				dep.Provider = known.Provider
			}
		}
	}

	unlock := uc.locks.lock(id)
	defer unlock()

	current := uc.GetState(ctx, id)
	from, _ := breaker.ParseState(current.State)
	tr := breaker.Manual(from, target, reason)
	signals := breaker.Signals{
		CallRate:     current.CurrentCallRate,
		FailureRate:  current.CurrentFailureRate,
		AvgLatencyMs: current.CurrentAvgLatencyMs,
	}
	return uc.apply(ctx, dep, tr, signals, false), nil
}

// ReportDependencyFailure trips a CLOSED or DEGRADED breaker to OPEN after the
// dependency was found down by the prober. It returns nil when nothing changed.
func (uc *CircuitBreakerUsecase) ReportDependencyFailure(ctx context.Context, dep *model.Dependency, reason string) (*TransitionResult, error) {
	unlock := uc.locks.lock(dep.ID)
	defer unlock()
	uc.persistPinned(ctx, dep.ID)

	current := uc.GetState(ctx, dep.ID)
	from, _ := breaker.ParseState(current.State)
	tr := breaker.DependencyFailure(from, reason)
	if !tr.Changed() {
		return nil, nil
	}
	signals := breaker.Signals{
		CallRate:     current.CurrentCallRate,
		FailureRate:  current.CurrentFailureRate,
		AvgLatencyMs: current.CurrentAvgLatencyMs,
	}
	return uc.apply(ctx, dep, tr, signals, true), nil
}

// apply persists a transition, invalidates the local copy and publishes the
// event. Automatic transitions (guarded) are written only while the store
// still holds tr.From; when another writer got there first the transition
// is dropped and apply returns nil. A failed write pins the new state locally.
// Callers hold the dependency lock.
func (uc *CircuitBreakerUsecase) apply(ctx context.Context, dep *model.Dependency, tr breaker.Transition, s breaker.Signals, guarded bool) *TransitionResult {
	now := uc.now().UTC()
	rec := &model.CircuitBreakerRecord{
		DependencyID:        dep.ID,
		State:               string(tr.To),
		PreviousState:       string(tr.From),
		LastTransitionAt:    now,
		CurrentCallRate:     s.CallRate,
		CurrentFailureRate:  s.FailureRate,
		CurrentAvgLatencyMs: s.AvgLatencyMs,
	}

	var err error
	if guarded {
		var swapped bool
		swapped, err = uc.repo.CompareAndSave(ctx, rec, string(tr.From), uc.stateTTL)
		if err == nil && !swapped {
			uc.cache.Remove(dep.ID)
			uc.logger.Infow("msg", "Circuit breaker state changed concurrently, transition dropped",
				"dependency_id", dep.ID,
				"from_state", tr.From,
				"to_state", tr.To,
				"trigger", tr.Trigger,
			)
			return nil
		}
	} else {
		err = uc.repo.Save(ctx, rec, uc.stateTTL)
	}

	persisted := err == nil
	if persisted {
		uc.unpin(dep.ID)
		uc.cache.Remove(dep.ID)
	} else {
		uc.logger.Degraded("failed to persist circuit state, keeping it locally", err,
			"dependency_id", dep.ID, "to_state", tr.To)
		uc.pin(*rec)
	}

	if tr.To == breaker.HalfOpen || tr.From == breaker.HalfOpen {
		if err := uc.repo.ResetHalfOpenPermits(ctx, dep.ID); err != nil {
			uc.logger.Debugw("msg", "failed to reset half-open permits", "dependency_id", dep.ID, "error", err)
		}
	}

	event := &model.StateTransitionEvent{
		ID:                         uuid.NewString(),
		DependencyID:               dep.ID,
		DependencyName:             dep.Name,
		Provider:                   dep.Provider,
		FromState:                  string(tr.From),
		ToState:                    string(tr.To),
		Trigger:                    string(tr.Trigger),
		Reason:                     tr.Reason,
		Severity:                   string(tr.Severity),
		AutoRecoverable:            tr.AutoRecoverable,
		RequiresManualIntervention: tr.RequiresManualIntervention,
		EmittedAt:                  now,
	}
	uc.notifier.Notify(event)
	uc.metrics.RecordTransition(ctx, dep.ID, event.FromState, event.ToState, event.Trigger)

	uc.logger.Infow("msg", "Circuit breaker state changed",
		"dependency_id", dep.ID,
		"from_state", event.FromState,
		"to_state", event.ToState,
		"trigger", event.Trigger,
		"severity", event.Severity,
		"persisted", persisted,
	)
	return &TransitionResult{Record: rec, Event: event, Persisted: persisted}
}

// GetAllStates lists every stored breaker. When the store is unreachable the
// pinned and locally cached states are returned with StoreAccessible false.
// Pinned states always override what the store holds.
func (uc *CircuitBreakerUsecase) GetAllStates(ctx context.Context) *CircuitStates {
	out := &CircuitStates{
		StoreAccessible: true,
		States:          []*model.CircuitBreakerRecord{},
		GeneratedAt:     uc.now().UTC(),
	}

	records, err := uc.repo.List(ctx)
	if err != nil {
		uc.logger.Degraded("failed to list circuit states, serving local cache", err)
		out.StoreAccessible = false
		seen := make(map[string]bool)
		for _, rec := range uc.pendingRecords() {
			rec := rec
			seen[rec.DependencyID] = true
			out.States = append(out.States, &rec)
		}
		for _, rec := range uc.cache.Values() {
			rec := rec
			if !seen[rec.DependencyID] {
				out.States = append(out.States, &rec)
			}
		}
		return out
	}

	pending := make(map[string]model.CircuitBreakerRecord)
	for _, rec := range uc.pendingRecords() {
		pending[rec.DependencyID] = rec
	}
	for _, rec := range records {
		if p, ok := pending[rec.DependencyID]; ok {
			rec = &p
			delete(pending, p.DependencyID)
		}
		out.States = append(out.States, rec)
	}
	for _, rec := range pending {
		rec := rec
		out.States = append(out.States, &rec)
	}
	return out
}

// IsCallPermitted reports whether a call to id may proceed. HALF_OPEN admits a
// limited number of calls per minute. Store errors fail open.
func (uc *CircuitBreakerUsecase) IsCallPermitted(ctx context.Context, id string) bool {
	state, _ := breaker.ParseState(uc.GetState(ctx, id).State)
	switch state {
	case breaker.Open, breaker.ForceOpen:
		return false
	case breaker.HalfOpen:
		n, err := uc.repo.IncrHalfOpenPermits(ctx, id)
		if err != nil {
			uc.logger.Degraded("half-open permit check failed, admitting call", err, "dependency_id", id)
			return true
		}
		return n <= uc.halfOpenMax
	default:
		return true
	}
}

// RecordCall adds one observed call to the sliding window.
func (uc *CircuitBreakerUsecase) RecordCall(ctx context.Context, id string, success bool, latencyMs int64) error {
	if err := uc.stats.Record(ctx, id, success, latencyMs, uc.now(), uc.window); err != nil {
		uc.logger.Degraded("failed to record call", err, "dependency_id", id)
		return err
	}
	return nil
}

func (uc *CircuitBreakerUsecase) pin(rec model.CircuitBreakerRecord) {
	uc.pendingMu.Lock()
	uc.pending[rec.DependencyID] = rec
	uc.pendingMu.Unlock()
	uc.cache.Remove(rec.DependencyID)
}

func (uc *CircuitBreakerUsecase) unpin(id string) {
	uc.pendingMu.Lock()
	delete(uc.pending, id)
	uc.pendingMu.Unlock()
}

func (uc *CircuitBreakerUsecase) pendingRecord(id string) (model.CircuitBreakerRecord, bool) {
	uc.pendingMu.Lock()
	defer uc.pendingMu.Unlock()
	rec, ok := uc.pending[id]
	return rec, ok
}

func (uc *CircuitBreakerUsecase) pendingRecords() []model.CircuitBreakerRecord {
	uc.pendingMu.Lock()
	defer uc.pendingMu.Unlock()
	out := make([]model.CircuitBreakerRecord, 0, len(uc.pending))
	for _, rec := range uc.pending {
		out = append(out, rec)
	}
	return out
}

// flushPending retries the store write of every pinned state.
func (uc *CircuitBreakerUsecase) flushPending(ctx context.Context) {
	for _, rec := range uc.pendingRecords() {
		unlock := uc.locks.lock(rec.DependencyID)
		uc.persistPinned(ctx, rec.DependencyID)
		unlock()
	}
}

// persistPinned writes id's pinned state, if any, and unpins it on success.
// Callers hold the dependency lock.
func (uc *CircuitBreakerUsecase) persistPinned(ctx context.Context, id string) {
	rec, ok := uc.pendingRecord(id)
	if !ok {
		return
	}
	if err := uc.repo.Save(ctx, &rec, uc.stateTTL); err != nil {
		uc.logger.Degraded("pinned circuit state still not persisted", err,
			"dependency_id", id, "state", rec.State)
		return
	}
	uc.unpin(id)
	uc.cache.Remove(id)
	uc.logger.Infow("msg", "Pinned circuit state persisted", "dependency_id", id, "state", rec.State)
}

// keyLocks serialises breaker writers per dependency within this process.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(id string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
