package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrQueueFull is returned by Enqueue when no buffer slot is free.
var ErrQueueFull = errors.New("biz: task queue is full")

// ErrQueueStopped is returned by Enqueue after Stop.
var ErrQueueStopped = errors.New("biz: task queue is stopped")

// Job is a one-shot unit of work. ctx is cancelled when the queue stops.
type Job func(ctx context.Context) error

type namedJob struct {
	name string
	run  Job
}

// TaskQueue runs one-shot jobs on a fixed pool of workers with a bounded
// buffer. It is a kratos transport.Server.
type TaskQueue struct {
	jobs    chan namedJob
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	logger *log.Helper
}

// NewTaskQueue creates the manual task queue.
func NewTaskQueue(c *conf.Probe, logger log.Logger) *TaskQueue {
	size, workers := c.ManualQueueSize, c.ManualWorkers
	if size <= 0 {
		size = 8
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskQueue{
		jobs:    make(chan namedJob, size),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.NewHelper(log.With(logger, "module", "biz/task_queue")),
	}
}

// Enqueue submits job without blocking.
func (q *TaskQueue) Enqueue(name string, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}

	select {
	case q.jobs <- namedJob{name: name, run: job}:
		q.logger.Infow("msg", "task enqueued", "task", name, "pending", len(q.jobs))
		return nil
	default:
		q.logger.Warnw("msg", "task queue full, rejecting task", "task", name, "capacity", cap(q.jobs))
		return ErrQueueFull
	}
}

// Start implements transport.Server.
func (q *TaskQueue) Start(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return nil
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}
	q.logger.Infow("msg", "task queue started", "workers", q.workers, "capacity", cap(q.jobs))
	return nil
}

// Stop implements transport.Server. Running jobs are cancelled, pending jobs
// are discarded, and Stop waits for the workers until ctx ends.
func (q *TaskQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.cancel()
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task queue stop: %w", ctx.Err())
	}
}

func (q *TaskQueue) work(worker int) {
	defer q.wg.Done()
	for job := range q.jobs {
		if q.ctx.Err() != nil {
			q.logger.Debugw("msg", "discarding task after stop", "task", job.name)
			continue
		}
		q.run(worker, job)
	}
}

func (q *TaskQueue) run(worker int, job namedJob) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("msg", "task panicked", "task", job.name, "worker", worker, "panic", fmt.Sprint(r))
		}
	}()

	if err := job.run(q.ctx); err != nil {
		q.logger.Warnw("msg", "task failed", "task", job.name, "worker", worker, "error", err)
		return
	}
	q.logger.Infow("msg", "task finished", "task", job.name, "worker", worker)
}
