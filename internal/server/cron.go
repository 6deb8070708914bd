package server

import (
	"context"
	"fmt"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/biz"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// ProbeRunner runs one probe cycle.
type ProbeRunner interface {
	RunOnce(ctx context.Context, force bool) (*biz.CycleReport, error)
}

// CircuitEvaluator runs one breaker evaluation pass.
type CircuitEvaluator interface {
	EvaluateAll(ctx context.Context) (*biz.EvaluationReport, error)
}

// CronServer drives the periodic probe cycle and breaker evaluation. It is a
// kratos transport.Server so the app starts and drains it with the others.
type CronServer struct {
	cron      *cron.Cron
	prober    ProbeRunner
	evaluator CircuitEvaluator

	probeEvery time.Duration
	evalEvery  time.Duration

	logger *log.Helper
}

// cronLogger adapts kratos logging to cron.Logger.
type cronLogger struct {
	helper *log.Helper
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.helper.Debugw(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.helper.Errorw(append([]interface{}{"msg", msg, "error", err}, keysAndValues...)...)
}

// NewCronServer registers the probe and evaluation jobs.
func NewCronServer(pc *conf.Probe, cbc *conf.CircuitBreaker, prober ProbeRunner, evaluator CircuitEvaluator, logger log.Logger) (*CronServer, error) {
	helper := log.NewHelper(log.With(logger, "module", "server/cron"))
	cl := cronLogger{helper: helper}

	s := &CronServer{
		// 重叠的周期直接跳过，panic 由 Recover 记录
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		prober:     prober,
		evaluator:  evaluator,
		probeEvery: pc.CycleInterval,
		evalEvery:  cbc.EvaluationInterval,
		logger:     helper,
	}
	if s.probeEvery <= 0 {
		s.probeEvery = 120 * time.Second
	}
	if s.evalEvery <= 0 {
		s.evalEvery = 60 * time.Second
	}

	if _, err := s.cron.AddFunc(every(s.probeEvery), s.runProbes); err != nil {
		return nil, fmt.Errorf("failed to register probe cron job: %w", err)
	}
	if _, err := s.cron.AddFunc(every(s.evalEvery), s.runEvaluation); err != nil {
		return nil, fmt.Errorf("failed to register evaluation cron job: %w", err)
	}
	return s, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (s *CronServer) runProbes() {
	ctx, cancel := context.WithTimeout(context.Background(), s.probeEvery)
	defer cancel()
	if _, err := s.prober.RunOnce(ctx, false); err != nil {
		s.logger.Errorw("msg", "probe cycle failed", "error", err)
	}
}

func (s *CronServer) runEvaluation() {
	ctx, cancel := context.WithTimeout(context.Background(), s.evalEvery)
	defer cancel()
	if _, err := s.evaluator.EvaluateAll(ctx); err != nil {
		s.logger.Errorw("msg", "circuit evaluation failed", "error", err)
	}
}

// Start implements transport.Server. The first probe cycle runs immediately.
func (s *CronServer) Start(_ context.Context) error {
	s.cron.Start()
	go s.runProbes()
	s.logger.Infow("msg", "cron jobs started", "probe_every", s.probeEvery.String(), "evaluate_every", s.evalEvery.String())
	return nil
}

// Stop implements transport.Server and waits for running jobs until ctx ends.
func (s *CronServer) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("cron jobs stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron stop: %w", ctx.Err())
	}
}
