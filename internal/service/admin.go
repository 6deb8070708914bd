// Package service exposes the admin HTTP surface of the system management service.
package service

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/biz"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/breaker"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Error reasons returned by the admin API.
const (
	ReasonInvalidArgument    = "INVALID_ARGUMENT"
	ReasonDependencyNotFound = "DEPENDENCY_NOT_FOUND"
	ReasonStoreUnavailable   = "STORE_UNAVAILABLE"
	ReasonQueueFull          = "QUEUE_FULL"
	ReasonShuttingDown       = "SHUTTING_DOWN"
)

// ForceStateRequest is the body of POST /v1/circuit-breakers/{id}/force.
type ForceStateRequest struct {
	ID       string `json:"-"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	State    string `json:"state"`
	Reason   string `json:"reason"`
}

// Validate checks the request.
func (r *ForceStateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.State, validation.Required, validation.By(func(v interface{}) error {
			if _, ok := breaker.ParseState(v.(string)); !ok {
				return stderrors.New("must be one of CLOSED, DEGRADED, OPEN, HALF_OPEN, FORCE_OPEN")
			}
			return nil
		})),
		validation.Field(&r.Reason, validation.Length(0, 512)),
	)
}

// RecordCallRequest is the body of POST /v1/circuit-breakers/{id}/calls.
type RecordCallRequest struct {
	ID        string `json:"-"`
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latency_ms"`
}

// Validate checks the request.
func (r *RecordCallRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.LatencyMs, validation.Min(int64(0))),
	)
}

// BatchAvailabilityRequest is the body of POST /v1/availability/batch.
type BatchAvailabilityRequest struct {
	IDs []string `json:"ids"`
}

// Validate checks the request.
func (r *BatchAvailabilityRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.IDs, validation.Required, validation.Length(1, 500)),
	)
}

// PermitReply answers whether a call may proceed.
type PermitReply struct {
	DependencyID string `json:"dependency_id"`
	State        string `json:"state"`
	Permitted    bool   `json:"permitted"`
}

// RecordCallReply acknowledges a recorded call.
type RecordCallReply struct {
	Recorded bool `json:"recorded"`
}

// AvailabilityReply describes one dependency's availability.
type AvailabilityReply struct {
	DependencyID string                    `json:"dependency_id"`
	Available    bool                      `json:"available"`
	Record       *model.AvailabilityRecord `json:"record,omitempty"`
}

// BatchAvailabilityReply maps dependency ids to availability.
type BatchAvailabilityReply struct {
	Availability map[string]bool `json:"availability"`
}

// EarlyRecoveryReply reports whether the record TTL was shortened.
type EarlyRecoveryReply struct {
	DependencyID string `json:"dependency_id"`
	Scheduled    bool   `json:"scheduled"`
}

// TaskAcceptedReply is returned for work accepted onto the task queue.
type TaskAcceptedReply struct {
	Task     string `json:"task"`
	Accepted bool   `json:"accepted"`
}

// DependenciesReply lists the enabled dependencies.
type DependenciesReply struct {
	Dependencies []*model.Dependency `json:"dependencies"`
}

// AdminService implements the admin HTTP API.
type AdminService struct {
	breaker      *biz.CircuitBreakerUsecase
	availability *biz.AvailabilityUsecase
	scheduler    *biz.HealthProbeScheduler
	queue        *biz.TaskQueue
	deps         biz.DependencyRepo
	logger       *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(
	cb *biz.CircuitBreakerUsecase,
	availability *biz.AvailabilityUsecase,
	scheduler *biz.HealthProbeScheduler,
	queue *biz.TaskQueue,
	deps biz.DependencyRepo,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		breaker:      cb,
		availability: availability,
		scheduler:    scheduler,
		queue:        queue,
		deps:         deps,
		logger:       log.NewHelper(log.With(logger, "module", "service/admin")),
	}
}

func invalidArgument(err error) error {
	return errors.BadRequest(ReasonInvalidArgument, err.Error())
}

// ForceState overrides a circuit breaker.
func (s *AdminService) ForceState(ctx context.Context, req *ForceStateRequest) (*biz.TransitionResult, error) {
	s.logger.Infow("msg", "ForceState called", "dependency_id", req.ID, "state", req.State)
	if err := req.Validate(); err != nil {
		return nil, invalidArgument(err)
	}

	res, err := s.breaker.ForceState(ctx, req.ID, req.Name, req.Provider, req.State, req.Reason)
	if err != nil {
		if stderrors.Is(err, biz.ErrInvalidState) {
			return nil, invalidArgument(err)
		}
		s.logger.Errorw("msg", "failed to force circuit state", "dependency_id", req.ID, "error", err)
		return nil, err
	}
	return res, nil
}

// ListCircuitStates returns every stored breaker.
func (s *AdminService) ListCircuitStates(ctx context.Context) (*biz.CircuitStates, error) {
	return s.breaker.GetAllStates(ctx), nil
}

// GetCircuitState returns one breaker, CLOSED when none is stored.
func (s *AdminService) GetCircuitState(ctx context.Context, id string) (*model.CircuitBreakerRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.BadRequest(ReasonInvalidArgument, "id is required")
	}
	return s.breaker.GetState(ctx, id), nil
}

// CheckPermit reports whether a call to id may proceed.
func (s *AdminService) CheckPermit(ctx context.Context, id string) (*PermitReply, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.BadRequest(ReasonInvalidArgument, "id is required")
	}
	permitted := s.breaker.IsCallPermitted(ctx, id)
	return &PermitReply{
		DependencyID: id,
		State:        s.breaker.GetState(ctx, id).State,
		Permitted:    permitted,
	}, nil
}

// RecordCall adds an observed call to the breaker's sliding window.
func (s *AdminService) RecordCall(ctx context.Context, req *RecordCallRequest) (*RecordCallReply, error) {
	if err := req.Validate(); err != nil {
		return nil, invalidArgument(err)
	}
	if err := s.breaker.RecordCall(ctx, req.ID, req.Success, req.LatencyMs); err != nil {
		return nil, errors.ServiceUnavailable(ReasonStoreUnavailable, "call statistics store unavailable")
	}
	return &RecordCallReply{Recorded: true}, nil
}

// EvaluateCircuits queues one evaluation pass over every dependency.
func (s *AdminService) EvaluateCircuits(_ context.Context) (*TaskAcceptedReply, error) {
	const task = "circuit-evaluation"
	if err := s.enqueue(task, func(ctx context.Context) error {
		_, err := s.breaker.EvaluateAll(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return &TaskAcceptedReply{Task: task, Accepted: true}, nil
}

// GetAvailability returns the availability of one dependency with its record.
func (s *AdminService) GetAvailability(ctx context.Context, id string) (*AvailabilityReply, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.BadRequest(ReasonInvalidArgument, "id is required")
	}
	rec, err := s.availability.GetRecord(ctx, id)
	if err != nil {
		// the usecase fails open for callers; the admin view reports the outage
		return nil, errors.ServiceUnavailable(ReasonStoreUnavailable, "availability store unavailable")
	}
	return &AvailabilityReply{DependencyID: id, Available: rec == nil, Record: rec}, nil
}

// BatchAvailability checks many dependencies at once.
func (s *AdminService) BatchAvailability(ctx context.Context, req *BatchAvailabilityRequest) (*BatchAvailabilityReply, error) {
	if err := req.Validate(); err != nil {
		return nil, invalidArgument(err)
	}
	return &BatchAvailabilityReply{Availability: s.availability.BatchIsAvailable(ctx, req.IDs)}, nil
}

// FailureStatistics summarises every unhealthy dependency.
func (s *AdminService) FailureStatistics(ctx context.Context) (*model.FailureStatistics, error) {
	return s.availability.GetFailureStatistics(ctx), nil
}

// EarlyRecovery shortens a short failure streak's TTL.
func (s *AdminService) EarlyRecovery(ctx context.Context, id string) (*EarlyRecoveryReply, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.BadRequest(ReasonInvalidArgument, "id is required")
	}
	ok, err := s.availability.EarlyRecoveryCheck(ctx, id)
	if err != nil {
		return nil, errors.ServiceUnavailable(ReasonStoreUnavailable, "availability store unavailable")
	}
	return &EarlyRecoveryReply{DependencyID: id, Scheduled: ok}, nil
}

// RunProbes queues one forced probe cycle.
func (s *AdminService) RunProbes(_ context.Context) (*TaskAcceptedReply, error) {
	const task = "probe-cycle"
	if err := s.enqueue(task, func(ctx context.Context) error {
		_, err := s.scheduler.RunOnce(ctx, true)
		return err
	}); err != nil {
		return nil, err
	}
	return &TaskAcceptedReply{Task: task, Accepted: true}, nil
}

// ListDependencies returns the enabled dependencies.
func (s *AdminService) ListDependencies(ctx context.Context) (*DependenciesReply, error) {
	deps, err := s.deps.ListEnabled(ctx)
	if err != nil {
		s.logger.Errorw("msg", "failed to list dependencies", "error", err)
		return nil, errors.ServiceUnavailable(ReasonStoreUnavailable, "dependency registry unavailable")
	}
	return &DependenciesReply{Dependencies: deps}, nil
}

// GetDependency returns one enabled dependency.
func (s *AdminService) GetDependency(ctx context.Context, id string) (*model.Dependency, error) {
	dep, err := s.deps.Get(ctx, id)
	if err != nil {
		return nil, errors.ServiceUnavailable(ReasonStoreUnavailable, "dependency registry unavailable")
	}
	if dep == nil {
		return nil, errors.NotFound(ReasonDependencyNotFound, "dependency "+id+" not found")
	}
	return dep, nil
}

func (s *AdminService) enqueue(task string, job biz.Job) error {
	switch err := s.queue.Enqueue(task, job); {
	case err == nil:
		return nil
	case stderrors.Is(err, biz.ErrQueueFull):
		return errors.New(429, ReasonQueueFull, "too many pending tasks, retry later")
	default:
		return errors.ServiceUnavailable(ReasonShuttingDown, err.Error())
	}
}
