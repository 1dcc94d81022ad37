// Package memqueue provides an in-process task queue with delayed delivery.
// It backs the one-shot sync command and tests, where running a real broker
// is not worth the ceremony. Delivery semantics match the asynq-backed
// queue: one handler invocation per task, delays honored, no retry.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

type Queue struct {
	mu       sync.Mutex
	handlers map[string]interfaces.TaskHandler
	wg       sync.WaitGroup
	timers   map[*time.Timer]struct{}
	stopped  bool
}

var _ interfaces.Queue = &Queue{}

func New() *Queue {
	return &Queue{
		handlers: make(map[string]interfaces.TaskHandler),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Handle registers the handler for a task type. Must be called before any
// Enqueue of that type.
func (q *Queue) Handle(taskType string, handler interfaces.TaskHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = handler
}

func (q *Queue) Enqueue(ctx context.Context, taskType string, payload []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return goerr.New("queue is stopped", goerr.V("task_type", taskType))
	}

	handler, ok := q.handlers[taskType]
	if !ok {
		return goerr.New("no handler registered for task type", goerr.V("task_type", taskType))
	}

	q.wg.Add(1)

	run := func() {
		defer q.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.Default().Error("panic in task handler", "task_type", taskType, "panic", r)
			}
		}()

		if err := handler(context.Background(), payload); err != nil {
			logging.Default().Error("task handler failed", "task_type", taskType, "error", err.Error())
		}
	}

	if delay <= 0 {
		go run()
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		stopped := q.stopped
		q.mu.Unlock()

		if stopped {
			q.wg.Done()
			return
		}
		run()
	})
	q.timers[timer] = struct{}{}

	return nil
}

// Wait blocks until every enqueued task, including tasks enqueued by running
// handlers, has completed. Used by the one-shot sync command to run a full
// pagination chain to quiescence.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Stop prevents further enqueues and cancels pending delayed tasks
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	for timer := range q.timers {
		if timer.Stop() {
			q.wg.Done()
		}
		delete(q.timers, timer)
	}
}
