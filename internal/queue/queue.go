// Package queue carries refund tasks from the request path to the background
// refund worker. Every implementation retries a failing task a bounded number
// of times and then drops it with an error log; the booking stays in
// refund_requested for manual follow-up.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

const DefaultMaxAttempts = 3

// RefundTask asks the worker to refund a booking. Amount overrides the
// refundable remainder when set.
type RefundTask struct {
	BookingID int64  `json:"booking_id"`
	Amount    *int64 `json:"amount,omitempty"`
}

func (t RefundTask) Validate() error {
	if t.BookingID <= 0 {
		return fmt.Errorf("refund task: invalid booking id %d", t.BookingID)
	}
	if t.Amount != nil && *t.Amount <= 0 {
		return fmt.Errorf("refund task: amount must be positive")
	}
	return nil
}

func encodeTask(t RefundTask) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeTask(body string) (RefundTask, error) {
	var t RefundTask
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return RefundTask{}, fmt.Errorf("decode refund task: %w", err)
	}
	return t, t.Validate()
}

// Handler processes one delivery. attempt starts at 1. A non-nil error asks
// for redelivery while attempts remain.
type Handler func(ctx context.Context, task RefundTask, attempt int) error

type Queue interface {
	Enqueue(ctx context.Context, task RefundTask) error
	// Run consumes tasks until ctx is done.
	Run(ctx context.Context, h Handler) error
}

func normalizeAttempts(n int) int {
	if n <= 0 {
		return DefaultMaxAttempts
	}
	return n
}
