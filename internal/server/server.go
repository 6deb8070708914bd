// Package server wires the transports run by the kratos app: the admin HTTP
// server and the cron runner.
package server

import (
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/biz"

	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(
	NewHTTPServer,
	NewCronServer,
	wire.Bind(new(ProbeRunner), new(*biz.HealthProbeScheduler)),
	wire.Bind(new(CircuitEvaluator), new(*biz.CircuitBreakerUsecase)),
)
