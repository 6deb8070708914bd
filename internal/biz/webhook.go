package biz

import (
	"context"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
)

// EventNotifier receives breaker transition events. Notify must not block.
// Implementation is in data layer (data.EventNotifier).
type EventNotifier interface {
	Notify(event *model.StateTransitionEvent)
}

// MetricsRecorder receives probe outcomes and breaker samples.
// Implementation is in data layer (data.MetricsRecorder).
type MetricsRecorder interface {
	RecordProbe(ctx context.Context, id, provider string, success bool, latencyMs int64)
	RecordCircuitSample(ctx context.Context, id, state string, callRate, failureRate, avgLatencyMs float64)
	RecordTransition(ctx context.Context, id, from, to, trigger string)
}
