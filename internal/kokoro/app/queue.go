package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of background work. Tasks with the same Name never run
// or wait concurrently.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// Queue runs fire-and-forget side effects (summary updates, memory
// extraction) off the request path on a single worker goroutine.
type Queue struct {
	tasks  chan Task
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewQueue returns a queue that holds up to size pending tasks.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		tasks:    make(chan Task, size),
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// Submit enqueues t. It returns false, without queueing, when a task with
// the same name is pending or running, or when the queue is full.
func (q *Queue) Submit(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight[t.Name] {
		return false
	}
	select {
	case q.tasks <- t:
		q.inflight[t.Name] = true
		return true
	default:
		q.logger.Warn("app: background queue full", "task", t.Name)
		return false
	}
}

// Busy reports whether a task named name is pending or running.
func (q *Queue) Busy(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight[name]
}

// Run executes tasks until ctx is cancelled. Pending tasks are dropped on
// exit.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.run(ctx, t)
		}
	}
}

func (q *Queue) run(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("app: background task panicked", "task", t.Name, "panic", r)
		}
		q.mu.Lock()
		delete(q.inflight, t.Name)
		q.mu.Unlock()
	}()
	start := time.Now()
	t.Run(ctx)
	q.logger.Debug("app: background task done", "task", t.Name, "duration_ms", time.Since(start).Milliseconds())
}

// Drain runs pending tasks on the calling goroutine until the queue is
// empty or ctx is done.
func (q *Queue) Drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.run(ctx, t)
		default:
			return
		}
	}
}
