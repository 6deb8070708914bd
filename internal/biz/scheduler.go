package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	pkglog "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	defaultCycleInterval  = 120 * time.Second
	defaultWorkerPoolSize = 20
)

var defaultTierBudgets = map[model.Priority]time.Duration{
	model.PriorityHigh:   15 * time.Second,
	model.PriorityMedium: 30 * time.Second,
	model.PriorityLow:    60 * time.Second,
}

// DependencyFailureReporter is told when a dependency keeps failing its probes.
// Implemented by CircuitBreakerUsecase.
type DependencyFailureReporter interface {
	ReportDependencyFailure(ctx context.Context, dep *model.Dependency, reason string) (*TransitionResult, error)
}

// TierReport summarises one priority tier of a cycle.
type TierReport struct {
	Priority  model.Priority `json:"priority"`
	Budget    time.Duration  `json:"budget"`
	Scheduled int            `json:"scheduled"`
	Completed int            `json:"completed"`
	Abandoned int            `json:"abandoned"`
}

// CycleReport is the result of one probe cycle.
type CycleReport struct {
	CycleID   string                `json:"cycle_id"`
	Trigger   string                `json:"trigger"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
	Skipped   int                   `json:"skipped"`
	Tiers     []*TierReport         `json:"tiers"`
	Outcomes  []*model.ProbeOutcome `json:"outcomes"`
}

// Count returns how many outcomes have the given status.
func (r *CycleReport) Count(status model.ProbeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// HealthProbeScheduler decides which dependencies are due, probes them tier by
// tier under per-tier budgets and commits the outcomes.
type HealthProbeScheduler struct {
	deps         DependencyRepo
	prober       Prober
	availability *AvailabilityUsecase
	reporter     DependencyFailureReporter
	metrics      MetricsRecorder

	cycleInterval    time.Duration
	tierBudget       map[model.Priority]time.Duration
	tierInterval     map[model.Priority]time.Duration
	failureThreshold int
	sem              *semaphore.Weighted

	mu        sync.Mutex
	lastProbe map[string]time.Time
	inFlight  map[string]struct{}

	logger *pkglog.LogHelper
	now    func() time.Time
}

// NewHealthProbeScheduler creates the probe scheduler.
func NewHealthProbeScheduler(
	pc *conf.Probe,
	cbc *conf.CircuitBreaker,
	deps DependencyRepo,
	prober Prober,
	availability *AvailabilityUsecase,
	reporter DependencyFailureReporter,
	metrics MetricsRecorder,
	logger log.Logger,
) *HealthProbeScheduler {
	s := &HealthProbeScheduler{
		deps:             deps,
		prober:           prober,
		availability:     availability,
		reporter:         reporter,
		metrics:          metrics,
		cycleInterval:    pc.CycleInterval,
		tierBudget:       make(map[model.Priority]time.Duration, 3),
		tierInterval:     make(map[model.Priority]time.Duration, 3),
		failureThreshold: cbc.ConsecutiveFailureThreshold,
		lastProbe:        make(map[string]time.Time),
		inFlight:         make(map[string]struct{}),
		logger:           pkglog.NewLogHelper(log.With(logger, "module", "biz/scheduler")),
		now:              time.Now,
	}
	if s.cycleInterval <= 0 {
		s.cycleInterval = defaultCycleInterval
	}
	if s.failureThreshold <= 0 {
		s.failureThreshold = ChronicFailureThreshold
	}

	workers := pc.WorkerPoolSize
	if workers <= 0 {
		workers = defaultWorkerPoolSize
	}
	s.sem = semaphore.NewWeighted(int64(workers))

	for _, p := range model.Priorities {
		s.tierBudget[p] = defaultTierBudgets[p]
		s.tierInterval[p] = p.ProbeInterval()
	}
	if b := pc.TierBudget; b != nil {
		setTierDurations(s.tierBudget, b)
	}
	if i := pc.TierInterval; i != nil {
		setTierDurations(s.tierInterval, i)
	}
	return s
}

func setTierDurations(dst map[model.Priority]time.Duration, src *conf.TierDurations) {
	if src.High > 0 {
		dst[model.PriorityHigh] = src.High
	}
	if src.Medium > 0 {
		dst[model.PriorityMedium] = src.Medium
	}
	if src.Low > 0 {
		dst[model.PriorityLow] = src.Low
	}
}

// RunOnce executes one probe cycle. With force set the due check is skipped.
// Only a failure to load the dependency list is returned as an error.
func (s *HealthProbeScheduler) RunOnce(ctx context.Context, force bool) (*CycleReport, error) {
	trigger := TriggerScheduled
	if force {
		trigger = TriggerManual
	}
	ctx = pkglog.WithCycle(ctx, trigger)
	report := &CycleReport{
		CycleID:   pkglog.GetCycleID(ctx),
		Trigger:   trigger,
		StartedAt: s.now(),
		Outcomes:  []*model.ProbeOutcome{},
	}

	deps, err := s.deps.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}

	tiers, skipped := s.plan(deps, force)
	report.Skipped = skipped

	s.logger.Scheduler("Probe cycle started",
		"cycle_id", report.CycleID,
		"trigger", trigger,
		"dependencies", len(deps),
		"skipped", skipped,
	)

	var (
		mu       sync.Mutex
		g        errgroup.Group
		reports  = make(map[model.Priority]*TierReport, len(tiers))
		outcomes = make(map[model.Priority][]*model.ProbeOutcome, len(tiers))
	)
	for _, p := range model.Priorities {
		batch := tiers[p]
		if len(batch) == 0 {
			continue
		}
		p := p
		g.Go(func() error {
			tr, res := s.runTier(ctx, p, batch)
			mu.Lock()
			reports[p] = tr
			outcomes[p] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range model.Priorities {
		if tr, ok := reports[p]; ok {
			report.Tiers = append(report.Tiers, tr)
			report.Outcomes = append(report.Outcomes, outcomes[p]...)
		}
	}
	report.Duration = s.now().Sub(report.StartedAt)

	healthy := 0
	for _, o := range report.Outcomes {
		if o.Status.IsSuccess() {
			healthy++
		}
	}
	s.logger.CycleCompleted(ctx, len(report.Outcomes), healthy, len(report.Outcomes)-healthy, report.Skipped,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// plan groups due dependencies by tier and claims their in-flight slot.
func (s *HealthProbeScheduler) plan(deps []*model.Dependency, force bool) (map[model.Priority][]*model.Dependency, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tiers := make(map[model.Priority][]*model.Dependency, 3)
	skipped := 0
	for _, dep := range deps {
		p := DerivePriority(dep)
		if !force && !s.isDue(dep.ID, p, now) {
			skipped++
			continue
		}
		if _, busy := s.inFlight[dep.ID]; busy {
			s.logger.Debugw("msg", "probe already in flight, skipping", "dependency_id", dep.ID)
			skipped++
			continue
		}
		s.inFlight[dep.ID] = struct{}{}
		tiers[p] = append(tiers[p], dep)
	}
	return tiers, skipped
}

// isDue must be called with s.mu held.
func (s *HealthProbeScheduler) isDue(id string, p model.Priority, now time.Time) bool {
	last, ok := s.lastProbe[id]
	if !ok {
		return true
	}
	return now.Sub(last) >= s.tierInterval[p]-s.cycleInterval/2
}

func (s *HealthProbeScheduler) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *HealthProbeScheduler) markProbed(id string) {
	s.mu.Lock()
	s.lastProbe[id] = s.now()
	s.mu.Unlock()
}

// runTier probes batch until done or until the tier budget runs out. Probes
// still running at that point are cancelled and their results dropped.
func (s *HealthProbeScheduler) runTier(ctx context.Context, p model.Priority, batch []*model.Dependency) (*TierReport, []*model.ProbeOutcome) {
	budget := s.tierBudget[p]
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	results := make(chan tierResult, len(batch))

	for _, dep := range batch {
		go func(dep *model.Dependency) {
			defer s.release(dep.ID)
			if err := s.sem.Acquire(tctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)

			outcome := s.probeOne(tctx, dep)
			if tctx.Err() != nil {
				return
			}
			results <- tierResult{dep: dep, outcome: outcome}
		}(dep)
	}

	tr := &TierReport{Priority: p, Budget: budget, Scheduled: len(batch)}
	outcomes := s.collect(ctx, tctx, results, len(batch))
	tr.Completed = len(outcomes)
	tr.Abandoned = tr.Scheduled - tr.Completed

	if tr.Abandoned > 0 {
		s.logger.Warnw("msg", "tier budget exhausted, abandoning remaining probes",
			"cycle_id", pkglog.GetCycleID(ctx),
			"priority", p,
			"budget", budget.String(),
			"completed", tr.Completed,
			"abandoned", tr.Abandoned,
		)
	}
	return tr, outcomes
}

type tierResult struct {
	dep     *model.Dependency
	outcome *model.ProbeOutcome
}

// collect commits up to n results until deadline is done. Results already
// buffered when the deadline fires are still committed.
func (s *HealthProbeScheduler) collect(ctx, deadline context.Context, results <-chan tierResult, n int) []*model.ProbeOutcome {
	outcomes := make([]*model.ProbeOutcome, 0, n)
	take := func(r tierResult) {
		s.commit(ctx, r.dep, r.outcome)
		outcomes = append(outcomes, r.outcome)
	}

	for len(outcomes) < n {
		select {
		case r := <-results:
			take(r)
		case <-deadline.Done():
			for len(outcomes) < n {
				select {
				case r := <-results:
					take(r)
				default:
					return outcomes
				}
			}
		}
	}
	return outcomes
}

// probeOne runs the prober and turns a panic into an UNKNOWN outcome.
func (s *HealthProbeScheduler) probeOne(ctx context.Context, dep *model.Dependency) (outcome *model.ProbeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("msg", "probe panicked", "dependency_id", dep.ID, "panic", fmt.Sprint(r))
			outcome = s.unknownOutcome(dep, fmt.Sprintf("probe panicked: %v", r))
		}
	}()

	outcome = s.prober.Probe(ctx, dep)
	if outcome == nil {
		outcome = s.unknownOutcome(dep, "probe returned no outcome")
	}
	return outcome
}

func (s *HealthProbeScheduler) unknownOutcome(dep *model.Dependency, msg string) *model.ProbeOutcome {
	return &model.ProbeOutcome{
		DependencyID: dep.ID,
		Provider:     dep.Provider,
		Status:       model.ProbeStatusUnknown,
		ErrorMessage: msg,
		SampledAt:    s.now(),
		CheckType:    model.CheckTypeStatic,
	}
}

// commit applies the side effects of one completed outcome. Store errors are
// logged by the callees and never stop the cycle.
func (s *HealthProbeScheduler) commit(ctx context.Context, dep *model.Dependency, o *model.ProbeOutcome) {
	s.markProbed(dep.ID)

	rec, _ := s.availability.RecordOutcome(ctx, o)
	s.metrics.RecordProbe(ctx, o.DependencyID, o.Provider, o.Status.IsSuccess(), o.LatencyMs)

	if rec == nil || rec.ConsecutiveFailures < s.failureThreshold || s.reporter == nil {
		return
	}
	reason := fmt.Sprintf("%d consecutive failed probes: %s", rec.ConsecutiveFailures, o.ErrorMessage)
	if _, err := s.reporter.ReportDependencyFailure(ctx, dep, reason); err != nil {
		s.logger.Warnw("msg", "failed to report dependency failure", "dependency_id", dep.ID, "error", err)
	}
}
