package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startConsumer(t *testing.T, q *MemoryQueue, queue string, handler domain.JobHandler, opts domain.ConsumeOptions) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := q.Consume(ctx, queue, handler, opts); err != nil {
			t.Errorf("Consume: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestMemoryQueueDeliversAll(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	stop := startConsumer(t, q, "jobs", func(_ context.Context, job domain.Job) error {
		mu.Lock()
		got = append(got, string(job.Payload))
		mu.Unlock()
		return nil
	}, domain.ConsumeOptions{Concurrency: 2})
	defer stop()

	for _, p := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, "jobs", []byte(p), domain.EnqueueOptions{Attempts: 1}); err != nil {
			t.Fatalf("Enqueue %s: %v", p, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
}

func TestMemoryQueueRetriesUntilSuccess(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	var mu sync.Mutex
	var attempts []int
	stop := startConsumer(t, q, "jobs", func(_ context.Context, job domain.Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		mu.Unlock()
		if job.Attempt < 2 {
			return errors.New("transient")
		}
		return nil
	}, domain.ConsumeOptions{Concurrency: 1})
	defer stop()

	err := q.Enqueue(ctx, "jobs", []byte("x"), domain.EnqueueOptions{
		Attempts: 3,
		Backoff:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("attempts = %v, want [1 2]", attempts)
	}
	if dead := q.DeadLetters("jobs"); len(dead) != 0 {
		t.Fatalf("dead letters = %d, want 0", len(dead))
	}
}

func TestMemoryQueueDeadLettersAfterAttemptCap(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	stop := startConsumer(t, q, "jobs", func(_ context.Context, _ domain.Job) error {
		return errors.New("permanent")
	}, domain.ConsumeOptions{Concurrency: 1})
	defer stop()

	err := q.Enqueue(ctx, "jobs", []byte("x"), domain.EnqueueOptions{
		Attempts: 2,
		Backoff:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(q.DeadLetters("jobs")) == 1
	})

	dead := q.DeadLetters("jobs")
	if dead[0].Attempt != 2 {
		t.Fatalf("dead job attempt = %d, want 2", dead[0].Attempt)
	}
	if string(dead[0].Payload) != "x" {
		t.Fatalf("dead job payload = %q, want %q", dead[0].Payload, "x")
	}
}

func TestMemoryQueueDedupeSuppressesDuplicates(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	opts := domain.EnqueueOptions{Attempts: 1, DedupeKey: "monitor:s1:0"}
	if err := q.Enqueue(ctx, "jobs", []byte("first"), opts); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "jobs", []byte("second"), opts); err != nil {
		t.Fatalf("duplicate Enqueue: %v", err)
	}
	other := domain.EnqueueOptions{Attempts: 1, DedupeKey: "monitor:s1:1"}
	if err := q.Enqueue(ctx, "jobs", []byte("third"), other); err != nil {
		t.Fatalf("Enqueue other key: %v", err)
	}

	var mu sync.Mutex
	var got []string
	stop := startConsumer(t, q, "jobs", func(_ context.Context, job domain.Job) error {
		mu.Lock()
		got = append(got, string(job.Payload))
		mu.Unlock()
		return nil
	}, domain.ConsumeOptions{Concurrency: 1})
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered = %v, want 2 jobs", got)
	}
	if got[0] != "first" || got[1] != "third" {
		t.Fatalf("delivered = %v, want [first third]", got)
	}
}

func TestMemoryQueueDelayHoldsDelivery(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	var mu sync.Mutex
	var deliveredAt time.Time
	stop := startConsumer(t, q, "jobs", func(_ context.Context, _ domain.Job) error {
		mu.Lock()
		deliveredAt = time.Now()
		mu.Unlock()
		return nil
	}, domain.ConsumeOptions{Concurrency: 1})
	defer stop()

	start := time.Now()
	err := q.Enqueue(ctx, "jobs", []byte("later"), domain.EnqueueOptions{
		Attempts: 1,
		Delay:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !deliveredAt.IsZero()
	})

	mu.Lock()
	defer mu.Unlock()
	if elapsed := deliveredAt.Sub(start); elapsed < 50*time.Millisecond {
		t.Fatalf("delivered after %v, want >= 50ms", elapsed)
	}
}

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	cases := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{time.Second, 1, time.Second},
		{time.Second, 2, 2 * time.Second},
		{time.Second, 3, 4 * time.Second},
		{time.Second, 30, maxRetryDelay},
		{0, 3, 0},
	}
	for _, tc := range cases {
		if got := retryDelay(tc.base, tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%v, %d) = %v, want %v", tc.base, tc.attempt, got, tc.want)
		}
	}
}
