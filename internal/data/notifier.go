package data

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultDeliveryTimeout = 5 * time.Second

// EventNotifier queues transition events and fans them out to sinks from a
// single dispatcher goroutine. Notify never blocks; on saturation the queue
// drops according to its policy. It is a kratos transport.Server.
type EventNotifier struct {
	queue           chan *model.StateTransitionEvent
	dropOldest      bool
	sinks           []EventSink
	deliveryTimeout time.Duration
	metrics         *MetricsRecorder
	logger          *log.Helper

	mu      sync.Mutex
	dropped atomic.Int64
	started atomic.Bool
	stopped chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewEventNotifier builds the notifier with a log sink, an audit sink when a
// registry database is configured, and a webhook sink when a URL is set.
func NewEventNotifier(c *conf.Notifier, d *Data, metrics *MetricsRecorder, logger log.Logger) (*EventNotifier, error) {
	sinks := []EventSink{NewLogSink(logger)}
	if d != nil && d.DB() != nil {
		sinks = append(sinks, NewAuditSink(d.DB(), logger))
	}

	timeout := defaultDeliveryTimeout
	if c.WebhookTimeout > 0 {
		timeout = c.WebhookTimeout
	}

	if c.WebhookURL != "" {
		client, err := httpclient.New(httpclient.Options{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, NewWebhookSink(c.WebhookURL, client, logger))
	}

	return newEventNotifier(c.QueueSize, c.DropPolicy != conf.DropNew, timeout, metrics, logger, sinks...), nil
}

func newEventNotifier(size int, dropOldest bool, timeout time.Duration, metrics *MetricsRecorder, logger log.Logger, sinks ...EventSink) *EventNotifier {
	if size <= 0 {
		size = 256
	}
	return &EventNotifier{
		queue:           make(chan *model.StateTransitionEvent, size),
		dropOldest:      dropOldest,
		sinks:           sinks,
		deliveryTimeout: timeout,
		metrics:         metrics,
		logger:          log.NewHelper(log.With(logger, "module", "data/notifier")),
		stopped:         make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Notify enqueues event without blocking.
func (n *EventNotifier) Notify(event *model.StateTransitionEvent) {
	if event == nil {
		return
	}
	select {
	case <-n.stopped:
		n.logger.Warnw("msg", "notifier stopped, event dropped", "event_id", event.ID)
		return
	default:
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case n.queue <- event:
		return
	default:
	}

	if !n.dropOldest {
		n.drop(event)
		return
	}

	select {
	case old := <-n.queue:
		n.drop(old)
	default:
	}
	select {
	case n.queue <- event:
	default:
		n.drop(event)
	}
}

func (n *EventNotifier) drop(e *model.StateTransitionEvent) {
	total := n.dropped.Add(1)
	n.metrics.RecordEventDropped(context.Background())
	n.logger.Warnw("msg", "event queue saturated, event dropped",
		"event_id", e.ID,
		"dependency_id", e.DependencyID,
		"to_state", e.ToState,
		"dropped_total", total,
	)
}

// Dropped returns the number of events discarded so far.
func (n *EventNotifier) Dropped() int64 {
	return n.dropped.Load()
}

// Start implements transport.Server. It launches the dispatcher and returns.
func (n *EventNotifier) Start(_ context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}
	go n.dispatch()
	n.logger.Infow("msg", "event notifier started", "sinks", len(n.sinks), "queue_size", cap(n.queue))
	return nil
}

// Stop implements transport.Server. Queued events are drained until ctx ends.
func (n *EventNotifier) Stop(ctx context.Context) error {
	n.once.Do(func() { close(n.stopped) })
	if !n.started.Load() {
		return nil
	}
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.logger.Warnw("msg", "notifier stop timed out", "pending", len(n.queue))
		return ctx.Err()
	}
}

func (n *EventNotifier) dispatch() {
	defer close(n.done)
	for {
		select {
		case e := <-n.queue:
			n.deliver(e)
		case <-n.stopped:
			for {
				select {
				case e := <-n.queue:
					n.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (n *EventNotifier) deliver(e *model.StateTransitionEvent) {
	for _, sink := range n.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), n.deliveryTimeout)
		err := sink.Deliver(ctx, e)
		cancel()
		if err != nil {
			n.logger.Warnw("msg", "event delivery failed",
				"sink", sink.Name(),
				"event_id", e.ID,
				"dependency_id", e.DependencyID,
				"error", err,
			)
		}
	}
}
