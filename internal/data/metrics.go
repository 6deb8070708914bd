package data

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/API-Bridge/BE-SystemManagementService-sub000"

// stateCodes maps breaker states to the value reported by the state gauge.
var stateCodes = map[string]int64{
	"CLOSED":     0,
	"DEGRADED":   1,
	"HALF_OPEN":  2,
	"OPEN":       3,
	"FORCE_OPEN": 4,
}

type circuitSample struct {
	state       int64
	callRate    float64
	failureRate float64
	avgLatency  float64
}

// MetricsRecorder publishes probe and breaker measurements through the
// OpenTelemetry metric API. A nil *MetricsRecorder is a valid no-op.
type MetricsRecorder struct {
	probes        metric.Int64Counter
	probeLatency  metric.Float64Histogram
	transitions   metric.Int64Counter
	eventsDropped metric.Int64Counter

	mu      sync.RWMutex
	samples map[string]circuitSample

	logger *log.Helper
}

// NewMetricsRecorder registers the instruments on mp.
func NewMetricsRecorder(mp metric.MeterProvider, logger log.Logger) (*MetricsRecorder, error) {
	meter := mp.Meter(meterName)
	r := &MetricsRecorder{
		samples: make(map[string]circuitSample),
		logger:  log.NewHelper(log.With(logger, "module", "data/metrics")),
	}

	var err error
	if r.probes, err = meter.Int64Counter("sysmgmt.probe.count",
		metric.WithDescription("Health probes executed"),
		metric.WithUnit("{probe}")); err != nil {
		return nil, fmt.Errorf("failed to create probe counter: %w", err)
	}
	if r.probeLatency, err = meter.Float64Histogram("sysmgmt.probe.latency",
		metric.WithDescription("Health probe latency"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(50, 100, 250, 500, 1000, 3000, 5000, 10000)); err != nil {
		return nil, fmt.Errorf("failed to create probe latency histogram: %w", err)
	}
	if r.transitions, err = meter.Int64Counter("sysmgmt.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, fmt.Errorf("failed to create transition counter: %w", err)
	}
	if r.eventsDropped, err = meter.Int64Counter("sysmgmt.events.dropped",
		metric.WithDescription("Transition events dropped on queue saturation"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("failed to create dropped event counter: %w", err)
	}

	stateGauge, err := meter.Int64ObservableGauge("sysmgmt.circuit.state",
		metric.WithDescription("Breaker state (0 closed, 1 degraded, 2 half-open, 3 open, 4 forced open)"))
	if err != nil {
		return nil, fmt.Errorf("failed to create state gauge: %w", err)
	}
	callRateGauge, err := meter.Float64ObservableGauge("sysmgmt.circuit.call_rate",
		metric.WithDescription("Calls per minute over the evaluation window"),
		metric.WithUnit("{call}/min"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call rate gauge: %w", err)
	}
	failureRateGauge, err := meter.Float64ObservableGauge("sysmgmt.circuit.failure_rate",
		metric.WithDescription("Failure percentage over the evaluation window"),
		metric.WithUnit("%"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failure rate gauge: %w", err)
	}
	latencyGauge, err := meter.Float64ObservableGauge("sysmgmt.circuit.avg_latency",
		metric.WithDescription("Average call latency over the evaluation window"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create latency gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for id, s := range r.samples {
			attrs := metric.WithAttributes(attribute.String("dependency_id", id))
			o.ObserveInt64(stateGauge, s.state, attrs)
			o.ObserveFloat64(callRateGauge, s.callRate, attrs)
			o.ObserveFloat64(failureRateGauge, s.failureRate, attrs)
			o.ObserveFloat64(latencyGauge, s.avgLatency, attrs)
		}
		return nil
	}, stateGauge, callRateGauge, failureRateGauge, latencyGauge)
	if err != nil {
		return nil, fmt.Errorf("failed to register circuit gauges: %w", err)
	}

	return r, nil
}

// RecordProbe records one probe outcome.
func (r *MetricsRecorder) RecordProbe(ctx context.Context, id, provider string, success bool, latencyMs int64) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("dependency_id", id),
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	)
	r.probes.Add(ctx, 1, attrs)
	r.probeLatency.Record(ctx, float64(latencyMs), attrs)
}

// RecordCircuitSample stores the latest evaluation of a breaker for the gauges.
func (r *MetricsRecorder) RecordCircuitSample(_ context.Context, id, state string, callRate, failureRate, avgLatencyMs float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.samples[id] = circuitSample{
		state:       stateCodes[state],
		callRate:    callRate,
		failureRate: failureRate,
		avgLatency:  avgLatencyMs,
	}
	r.mu.Unlock()
}

// RecordTransition counts a breaker transition.
func (r *MetricsRecorder) RecordTransition(ctx context.Context, id, from, to, trigger string) {
	if r == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency_id", id),
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("trigger", trigger),
	))
}

// RecordEventDropped counts an event lost to queue saturation.
func (r *MetricsRecorder) RecordEventDropped(ctx context.Context) {
	if r == nil {
		return
	}
	r.eventsDropped.Add(ctx, 1)
}
