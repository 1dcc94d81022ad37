package memqueue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/queue/memqueue"
)

func TestEnqueueDeliversToHandler(t *testing.T) {
	q := memqueue.New()
	defer q.Stop()

	var got atomic.Value
	q.Handle("test:task", func(ctx context.Context, payload []byte) error {
		got.Store(string(payload))
		return nil
	})

	gt.NoError(t, q.Enqueue(context.Background(), "test:task", []byte("hello"), 0)).Required()
	q.Wait()

	gt.Value(t, got.Load()).Equal("hello")
}

func TestEnqueueUnknownTaskType(t *testing.T) {
	q := memqueue.New()
	defer q.Stop()

	gt.Error(t, q.Enqueue(context.Background(), "unregistered", nil, 0))
}

func TestDelayedDelivery(t *testing.T) {
	q := memqueue.New()
	defer q.Stop()

	var deliveredAt atomic.Value
	q.Handle("test:task", func(ctx context.Context, payload []byte) error {
		deliveredAt.Store(time.Now())
		return nil
	})

	start := time.Now()
	gt.NoError(t, q.Enqueue(context.Background(), "test:task", nil, 50*time.Millisecond)).Required()
	q.Wait()

	at, ok := deliveredAt.Load().(time.Time)
	gt.Bool(t, ok).True()
	gt.Bool(t, at.Sub(start) >= 50*time.Millisecond).True()
}

func TestWaitCoversChainedEnqueues(t *testing.T) {
	q := memqueue.New()
	defer q.Stop()

	var handled atomic.Int32
	q.Handle("test:chain", func(ctx context.Context, payload []byte) error {
		n := handled.Add(1)
		if n < 5 {
			return q.Enqueue(ctx, "test:chain", nil, 0)
		}
		return nil
	})

	gt.NoError(t, q.Enqueue(context.Background(), "test:chain", nil, 0)).Required()
	q.Wait()

	gt.Value(t, handled.Load()).Equal(int32(5))
}

func TestStopRejectsNewWorkAndCancelsDelayed(t *testing.T) {
	q := memqueue.New()

	var handled atomic.Int32
	q.Handle("test:task", func(ctx context.Context, payload []byte) error {
		handled.Add(1)
		return nil
	})

	// a far-future delayed task must not block Wait after Stop
	gt.NoError(t, q.Enqueue(context.Background(), "test:task", nil, time.Hour)).Required()
	q.Stop()
	q.Wait()

	gt.Value(t, handled.Load()).Equal(int32(0))
	gt.Error(t, q.Enqueue(context.Background(), "test:task", nil, 0))
}

func TestHandlerPanicIsContained(t *testing.T) {
	q := memqueue.New()
	defer q.Stop()

	q.Handle("test:panic", func(ctx context.Context, payload []byte) error {
		panic("handler exploded")
	})

	gt.NoError(t, q.Enqueue(context.Background(), "test:panic", nil, 0)).Required()
	q.Wait()
}
