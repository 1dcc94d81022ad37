package interfaces

import (
	"context"
	"time"
)

// Queue dispatches discrete units of work, optionally after a delay. The
// paginator uses the delay to externalize rate-limit backoffs instead of
// sleeping in a worker slot.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload []byte, delay time.Duration) error
}

// TaskHandler processes one dequeued task
type TaskHandler func(ctx context.Context, payload []byte) error
