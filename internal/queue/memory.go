package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omniswap/swapd/internal/domain"
)

const memBufferSize = 1024

// MemoryQueue is an in-process domain.Queue. It honors the same attempt,
// backoff, and dedupe semantics as the Redis queue so services can be
// tested without an external broker.
type MemoryQueue struct {
	dedupeTTL time.Duration

	mu     sync.Mutex
	queues map[string]chan memJob
	dedupe map[string]time.Time
	dead   map[string][]domain.Job
	nextID int64
}

type memJob struct {
	id          int64
	payload     []byte
	attempt     int
	maxAttempts int
	backoff     time.Duration
	enqueuedAt  time.Time
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		dedupeTTL: 10 * time.Minute,
		queues:    make(map[string]chan memJob),
		dedupe:    make(map[string]time.Time),
		dead:      make(map[string][]domain.Job),
	}
}

func (q *MemoryQueue) channel(queue string) chan memJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[queue]
	if !ok {
		ch = make(chan memJob, memBufferSize)
		q.queues[queue] = ch
	}
	return ch
}

// Enqueue appends a job, dropping it when a live dedupe key matches.
func (q *MemoryQueue) Enqueue(ctx context.Context, queue string, payload []byte, opts domain.EnqueueOptions) error {
	if opts.DedupeKey != "" {
		key := dedupeKey(queue, opts.DedupeKey)
		q.mu.Lock()
		if until, ok := q.dedupe[key]; ok && time.Now().Before(until) {
			q.mu.Unlock()
			return nil
		}
		q.dedupe[key] = time.Now().Add(q.dedupeTTL)
		q.mu.Unlock()
	}

	maxAttempts := opts.Attempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	job := memJob{
		id:          q.allocID(),
		payload:     payload,
		attempt:     1,
		maxAttempts: maxAttempts,
		backoff:     opts.Backoff,
		enqueuedAt:  time.Now(),
	}
	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() {
			_ = q.push(queue, job)
		})
		return nil
	}
	return q.push(queue, job)
}

func (q *MemoryQueue) allocID() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	return q.nextID
}

func (q *MemoryQueue) push(queue string, job memJob) error {
	select {
	case q.channel(queue) <- job:
		return nil
	default:
		return fmt.Errorf("queue: %s full", queue)
	}
}

// Consume blocks, delivering jobs to handler with a worker pool until ctx
// is cancelled. Cancellation is a clean shutdown, not an error.
func (q *MemoryQueue) Consume(ctx context.Context, queue string, handler domain.JobHandler, opts domain.ConsumeOptions) error {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	ch := q.channel(queue)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job := <-ch:
					q.deliver(gctx, queue, job, handler)
				}
			}
		})
	}
	return g.Wait()
}

func (q *MemoryQueue) deliver(ctx context.Context, queue string, job memJob, handler domain.JobHandler) {
	dj := domain.Job{
		ID:         fmt.Sprintf("%d", job.id),
		Queue:      queue,
		Payload:    job.payload,
		Attempt:    job.attempt,
		EnqueuedAt: job.enqueuedAt,
	}
	if err := handler(ctx, dj); err == nil {
		return
	}

	if job.attempt >= job.maxAttempts {
		q.mu.Lock()
		q.dead[queue] = append(q.dead[queue], dj)
		q.mu.Unlock()
		return
	}

	retry := job
	retry.attempt++
	delay := retryDelay(job.backoff, job.attempt)
	if delay <= 0 {
		_ = q.push(queue, retry)
		return
	}
	time.AfterFunc(delay, func() {
		_ = q.push(queue, retry)
	})
}

// DeadLetters returns the jobs that exhausted their attempts on a queue.
func (q *MemoryQueue) DeadLetters(queue string) []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Job, len(q.dead[queue]))
	copy(out, q.dead[queue])
	return out
}

var _ domain.Queue = (*MemoryQueue)(nil)
