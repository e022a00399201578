package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type delivery struct {
	task    RefundTask
	attempt int
}

// MemoryQueue is the in-process queue used when no SQS queue is configured.
// Pending tasks are lost on restart.
type MemoryQueue struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Log         *zap.Logger

	ch chan delivery
	wg sync.WaitGroup
}

func NewMemoryQueue(size, maxAttempts int, log *zap.Logger) *MemoryQueue {
	if size <= 0 {
		size = 128
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryQueue{
		MaxAttempts: normalizeAttempts(maxAttempts),
		Backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * 5 * time.Second },
		Log:         log,
		ch:          make(chan delivery, size),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task RefundTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return q.push(ctx, delivery{task: task, attempt: 1})
}

func (q *MemoryQueue) push(ctx context.Context, d delivery) error {
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Run(ctx context.Context, h Handler) error {
	defer q.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-q.ch:
			q.handle(ctx, h, d)
		}
	}
}

func (q *MemoryQueue) handle(ctx context.Context, h Handler, d delivery) {
	err := h(ctx, d.task, d.attempt)
	if err == nil {
		return
	}
	if d.attempt >= q.MaxAttempts {
		q.Log.Error("refund task dropped after max attempts",
			zap.Int64("booking_id", d.task.BookingID),
			zap.Int("attempts", d.attempt),
			zap.Error(err),
		)
		return
	}
	q.Log.Warn("refund task failed, retrying",
		zap.Int64("booking_id", d.task.BookingID),
		zap.Int("attempt", d.attempt),
		zap.Error(err),
	)

	next := delivery{task: d.task, attempt: d.attempt + 1}
	wait := time.Duration(0)
	if q.Backoff != nil {
		wait = q.Backoff(d.attempt)
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
		_ = q.push(ctx, next)
	}()
}
