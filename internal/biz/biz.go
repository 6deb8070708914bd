// Package biz contains business logic layer implementations.
// It owns the probe scheduling, the availability cache rules and the circuit
// breaker engine; storage and delivery live in the data layer.
package biz

import (
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewAvailabilityUsecase,
	NewProbeExecutor,
	NewHealthProbeScheduler,
	NewCircuitBreakerUsecase,
	NewTaskQueue,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(AvailabilityRepo), new(*data.AvailabilityRepo)),
	wire.Bind(new(CircuitBreakerRepo), new(*data.CircuitBreakerRepo)),
	wire.Bind(new(CallStatsRepo), new(*data.CallStatsRepo)),
	wire.Bind(new(DependencyRepo), new(*data.DependencyRepo)),
	wire.Bind(new(EventNotifier), new(*data.EventNotifier)),
	wire.Bind(new(MetricsRecorder), new(*data.MetricsRecorder)),
	wire.Bind(new(Prober), new(*ProbeExecutor)),
	wire.Bind(new(DependencyFailureReporter), new(*CircuitBreakerUsecase)),
)
