package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTaskTimeout = 30 * time.Second

// Queue runs best-effort side work (snapshot writes, event publishing) off
// the durability-critical write path. A failed task is logged, never
// propagated: nothing submitted here can block or roll back an append.
type Queue struct {
	logger  *zap.Logger
	tasks   chan entry
	pending sync.WaitGroup
	worker  sync.WaitGroup
	once    sync.Once
}

type entry struct {
	name string
	fn   func(context.Context) error
}

func NewQueue(logger *zap.Logger, buffer int) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	q := &Queue{
		logger: logger.With(zap.String("component", "task_queue")),
		tasks:  make(chan entry, buffer),
	}
	q.worker.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.worker.Done()
	for t := range q.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTaskTimeout)
		if err := t.fn(ctx); err != nil {
			q.logger.Warn("background task failed",
				zap.String("task", t.name),
				zap.Error(err))
		}
		cancel()
		q.pending.Done()
	}
}

// Submit enqueues fn. When the queue is full the task is dropped with a
// warning: side work is disposable, the write path is not.
func (q *Queue) Submit(name string, fn func(context.Context) error) {
	q.pending.Add(1)
	select {
	case q.tasks <- entry{name: name, fn: fn}:
	default:
		q.pending.Done()
		q.logger.Warn("task queue full, dropping task", zap.String("task", name))
	}
}

// Flush blocks until every submitted task has finished.
func (q *Queue) Flush() {
	q.pending.Wait()
}

// Close drains outstanding tasks and stops the worker.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.tasks) })
	q.worker.Wait()
}
