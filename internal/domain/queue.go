package domain

import (
	"context"
	"time"
)

// Job is one delivered queue entry.
type Job struct {
	ID         string
	Queue      string
	Payload    []byte
	Attempt    int // 1-based delivery attempt
	EnqueuedAt time.Time
}

// EnqueueOptions control retry and dedup behavior for one enqueue.
type EnqueueOptions struct {
	Attempts  int           // max delivery attempts; 0 means 1
	Backoff   time.Duration // initial retry delay, doubled per attempt
	DedupeKey string        // collapses duplicate enqueues while one is in flight
	Delay     time.Duration // holds the job back before first delivery
}

// ConsumeOptions bound a consumer pool.
type ConsumeOptions struct {
	Concurrency int
	RatePerSec  int // 0 disables rate limiting
}

// JobHandler processes one job. A non-nil error schedules a retry until the
// attempt cap, after which the job is dead-lettered.
type JobHandler func(ctx context.Context, job Job) error

// Queue is a durable, retryable task queue.
type Queue interface {
	Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) error
	// Consume blocks, delivering jobs to handler until ctx is cancelled.
	Consume(ctx context.Context, queue string, handler JobHandler, opts ConsumeOptions) error
}
