package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	pkglog "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

// EventSink delivers transition events to one destination.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, event *model.StateTransitionEvent) error
}

// LogSink writes every transition to the service log.
type LogSink struct {
	logger *pkglog.LogHelper
}

// NewLogSink creates a log sink.
func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{logger: pkglog.NewLogHelper(logger)}
}

// Name implements EventSink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements EventSink.
func (s *LogSink) Deliver(_ context.Context, e *model.StateTransitionEvent) error {
	s.logger.Circuit(e.FromState, e.ToState, e.Trigger,
		"event_id", e.ID,
		"dependency_id", e.DependencyID,
		"dependency_name", e.DependencyName,
		"provider", e.Provider,
		"severity", e.Severity,
		"reason", e.Reason,
		"auto_recoverable", e.AutoRecoverable,
		"requires_manual_intervention", e.RequiresManualIntervention,
	)
	return nil
}

// WebhookSink posts events as JSON. A gobreaker circuit fails fast while the
// endpoint keeps erroring so a dead webhook cannot stall the dispatcher.
type WebhookSink struct {
	url     string
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *log.Helper
}

// NewWebhookSink creates a webhook sink for url.
func NewWebhookSink(url string, client *resty.Client, logger log.Logger) *WebhookSink {
	helper := log.NewHelper(log.With(logger, "module", "data/webhook"))
	settings := gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			helper.Warnw("msg", "webhook delivery breaker changed state", "from", from.String(), "to", to.String())
		},
	}
	return &WebhookSink{
		url:     url,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  helper,
	}
}

// Name implements EventSink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements EventSink.
func (s *WebhookSink) Deliver(ctx context.Context, e *model.StateTransitionEvent) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Event-ID", e.ID).
			SetBody(e).
			Post(s.url)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("webhook responded %d", resp.StatusCode())
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("webhook suspended: %w", err)
	}
	return err
}

// State exposes the delivery breaker state.
func (s *WebhookSink) State() gobreaker.State {
	return s.breaker.State()
}
