// Package queue implements the durable job queue on Redis Streams with
// consumer groups. Failed deliveries are rescheduled through a sorted set
// keyed by due time; exhausted jobs land on a per-queue dead-letter stream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	rediscache "github.com/omniswap/swapd/internal/cache/redis"
	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/observability"
)

const (
	// maxRetryDelay caps exponential backoff growth.
	maxRetryDelay = 5 * time.Minute
	// staleClaimAfter is how long a delivery may sit unacked before the
	// reaper claims and redelivers it.
	staleClaimAfter = time.Minute
	// retryPollInterval is how often the reaper moves due retries back onto
	// the stream.
	retryPollInterval = time.Second
)

// Config tunes the Redis-backed queue.
type Config struct {
	Group     string        // consumer group name
	Block     time.Duration // XREADGROUP poll window
	DedupeTTL time.Duration // how long a dedupe key suppresses duplicates
	MaxLen    int64         // per-stream approximate cap
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = "swapd"
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 10 * time.Minute
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 10000
	}
	return c
}

// RedisQueue implements domain.Queue on Redis Streams.
type RedisQueue struct {
	rdb          *redis.Client
	cfg          Config
	limiter      domain.RateLimiter
	logger       *slog.Logger
	consumerBase string
}

// NewRedisQueue creates a queue backed by the given Redis client. The
// limiter, when non-nil, enforces ConsumeOptions.RatePerSec across all
// instances sharing the Redis; a nil limiter disables rate limiting.
func NewRedisQueue(c *rediscache.Client, cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *RedisQueue {
	cfg = cfg.withDefaults()
	return &RedisQueue{
		rdb:          c.Underlying(),
		cfg:          cfg,
		limiter:      limiter,
		logger:       logger.With(slog.String("component", "queue")),
		consumerBase: fmt.Sprintf("%s-%s", cfg.Group, uuid.NewString()[:8]),
	}
}

func streamKey(queue string) string {
	return "queue:" + queue
}

func retryKey(queue string) string {
	return "queue:" + queue + ":retry"
}

func deadKey(queue string) string {
	return "queue:" + queue + ":dead"
}

func dedupeKey(queue, key string) string {
	return "queue:" + queue + ":dedupe:" + key
}

// Enqueue appends a job to the queue's stream. When opts.DedupeKey is set
// and a job with the same key was enqueued within DedupeTTL, the enqueue is
// silently dropped. A positive Delay parks the job in the retry set until
// its due time.
func (q *RedisQueue) Enqueue(ctx context.Context, queue string, payload []byte, opts domain.EnqueueOptions) error {
	if opts.DedupeKey != "" {
		ok, err := q.rdb.SetNX(ctx, dedupeKey(queue, opts.DedupeKey), 1, q.cfg.DedupeTTL).Result()
		if err != nil {
			return fmt.Errorf("queue: dedupe %s: %w", queue, err)
		}
		if !ok {
			return nil
		}
	}

	if opts.Delay > 0 {
		return q.park(ctx, queue, payload, opts)
	}
	return q.append(ctx, queue, payload, 1, opts.Attempts, opts.Backoff)
}

// park defers first delivery through the retry sorted set.
func (q *RedisQueue) park(ctx context.Context, queue string, payload []byte, opts domain.EnqueueOptions) error {
	maxAttempts := opts.Attempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	entry := retryEntry{
		Nonce:       uuid.NewString(),
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		BackoffMS:   opts.Backoff.Milliseconds(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: marshal delayed job %s: %w", queue, err)
	}

	due := time.Now().Add(opts.Delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, retryKey(queue), redis.Z{Score: float64(due), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("queue: delay %s: %w", queue, err)
	}
	return nil
}

func (q *RedisQueue) append(ctx context.Context, queue string, payload []byte, attempt, maxAttempts int, backoff time.Duration) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	args := &redis.XAddArgs{
		Stream: streamKey(queue),
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload":      payload,
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"backoff_ms":   backoff.Milliseconds(),
		},
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", queue, err)
	}
	return nil
}

// Consume blocks, reading the queue with a consumer-group worker pool and
// delivering jobs to handler until ctx is cancelled. A handler error
// schedules a delayed retry until the job's attempt cap, after which the
// job is dead-lettered.
func (q *RedisQueue) Consume(ctx context.Context, queue string, handler domain.JobHandler, opts domain.ConsumeOptions) error {
	if err := q.ensureGroup(ctx, streamKey(queue)); err != nil {
		return err
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		g.Go(func() error {
			return q.worker(gctx, queue, consumer, handler, opts)
		})
	}
	g.Go(func() error {
		return q.reaper(gctx, queue)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (q *RedisQueue) ensureGroup(ctx context.Context, stream string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: create group %s: %w", stream, err)
	}
	return nil
}

func (q *RedisQueue) worker(ctx context.Context, queue, consumer string, handler domain.JobHandler, opts domain.ConsumeOptions) error {
	stream := streamKey(queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.WarnContext(ctx, "queue read failed",
				slog.String("queue", queue),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				if q.limiter != nil && opts.RatePerSec > 0 {
					if err := q.waitAllowed(ctx, queue, opts.RatePerSec); err != nil {
						return err
					}
				}
				q.process(ctx, queue, msg, handler)
			}
		}
	}
}

// waitAllowed polls the distributed limiter until the queue is under its
// per-second budget.
func (q *RedisQueue) waitAllowed(ctx context.Context, queue string, limit int) error {
	for {
		allowed, err := q.limiter.Allow(ctx, "queue:"+queue, limit, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *RedisQueue) process(ctx context.Context, queue string, msg redis.XMessage, handler domain.JobHandler) {
	job, maxAttempts, backoff, ok := decodeMessage(queue, msg)
	if !ok {
		q.logger.WarnContext(ctx, "queue message malformed",
			slog.String("queue", queue),
			slog.String("id", msg.ID))
		q.ack(ctx, queue, msg.ID)
		return
	}

	if err := handler(ctx, job); err != nil {
		q.retryOrBury(ctx, queue, job, maxAttempts, backoff, err)
	}
	// The original delivery is always acked; retries travel as new entries.
	q.ack(ctx, queue, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, queue, id string) {
	if err := q.rdb.XAck(ctx, streamKey(queue), q.cfg.Group, id).Err(); err != nil {
		q.logger.WarnContext(ctx, "queue ack failed",
			slog.String("queue", queue),
			slog.String("id", id),
			slog.String("error", err.Error()))
	}
}

// retryEntry is the JSON envelope parked in the retry sorted set.
type retryEntry struct {
	Nonce       string `json:"nonce"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	BackoffMS   int64  `json:"backoff_ms"`
}

func (q *RedisQueue) retryOrBury(ctx context.Context, queue string, job domain.Job, maxAttempts int, backoff time.Duration, cause error) {
	if job.Attempt >= maxAttempts {
		q.bury(ctx, queue, job, cause)
		return
	}

	delay := retryDelay(backoff, job.Attempt)
	entry := retryEntry{
		Nonce:       uuid.NewString(),
		Payload:     job.Payload,
		Attempt:     job.Attempt + 1,
		MaxAttempts: maxAttempts,
		BackoffMS:   backoff.Milliseconds(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		q.logger.ErrorContext(ctx, "queue retry marshal failed",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
		return
	}

	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, retryKey(queue), redis.Z{Score: float64(due), Member: string(data)}).Err(); err != nil {
		q.logger.ErrorContext(ctx, "queue retry schedule failed",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
		return
	}

	observability.RecordQueueRetry(queue)
	q.logger.WarnContext(ctx, "job retry scheduled",
		slog.String("queue", queue),
		slog.Int("attempt", job.Attempt),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()))
}

func (q *RedisQueue) bury(ctx context.Context, queue string, job domain.Job, cause error) {
	args := &redis.XAddArgs{
		Stream: deadKey(queue),
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": job.Payload,
			"attempt": job.Attempt,
			"error":   cause.Error(),
		},
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		q.logger.ErrorContext(ctx, "queue dead-letter append failed",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
		return
	}

	observability.RecordQueueDeadLetter(queue)
	q.logger.ErrorContext(ctx, "job dead-lettered",
		slog.String("queue", queue),
		slog.Int("attempt", job.Attempt),
		slog.String("error", cause.Error()))
}

// reaper periodically moves due retries back onto the stream and reclaims
// deliveries whose consumer went away before acking.
func (q *RedisQueue) reaper(ctx context.Context, queue string) error {
	ticker := time.NewTicker(retryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		q.redeliverDue(ctx, queue)
		q.claimStale(ctx, queue)
	}
}

func (q *RedisQueue) redeliverDue(ctx context.Context, queue string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, retryKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		q.logger.WarnContext(ctx, "queue retry scan failed",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
		return
	}

	for _, member := range members {
		var entry retryEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			q.rdb.ZRem(ctx, retryKey(queue), member)
			continue
		}
		// Append before remove keeps delivery at-least-once.
		if err := q.append(ctx, queue, entry.Payload, entry.Attempt, entry.MaxAttempts,
			time.Duration(entry.BackoffMS)*time.Millisecond); err != nil {
			q.logger.ErrorContext(ctx, "queue retry redeliver failed",
				slog.String("queue", queue),
				slog.String("error", err.Error()))
			continue
		}
		q.rdb.ZRem(ctx, retryKey(queue), member)
	}
}

func (q *RedisQueue) claimStale(ctx context.Context, queue string) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey(queue),
		Group:    q.cfg.Group,
		Consumer: q.consumerBase + "-reaper",
		MinIdle:  staleClaimAfter,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			q.logger.WarnContext(ctx, "queue stale claim failed",
				slog.String("queue", queue),
				slog.String("error", err.Error()))
		}
		return
	}

	for _, msg := range msgs {
		job, maxAttempts, backoff, ok := decodeMessage(queue, msg)
		if ok {
			if err := q.append(ctx, queue, job.Payload, job.Attempt, maxAttempts, backoff); err != nil {
				q.logger.ErrorContext(ctx, "queue stale redeliver failed",
					slog.String("queue", queue),
					slog.String("error", err.Error()))
				continue
			}
		}
		q.ack(ctx, queue, msg.ID)
	}
}

// decodeMessage turns a stream entry into a Job plus its retry policy.
func decodeMessage(queue string, msg redis.XMessage) (domain.Job, int, time.Duration, bool) {
	raw, ok := msg.Values["payload"]
	if !ok {
		return domain.Job{}, 0, 0, false
	}

	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return domain.Job{}, 0, 0, false
	}

	job := domain.Job{
		ID:         msg.ID,
		Queue:      queue,
		Payload:    payload,
		Attempt:    intField(msg.Values, "attempt", 1),
		EnqueuedAt: idTime(msg.ID),
	}
	maxAttempts := intField(msg.Values, "max_attempts", 1)
	backoff := time.Duration(intField(msg.Values, "backoff_ms", 0)) * time.Millisecond
	return job, maxAttempts, backoff, true
}

func intField(values map[string]interface{}, key string, def int) int {
	v, ok := values[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	case int64:
		return int(t)
	}
	return def
}

// idTime extracts the millisecond timestamp embedded in a stream entry id.
func idTime(id string) time.Time {
	msStr, _, _ := strings.Cut(id, "-")
	ms, err := strconv.ParseInt(msStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// retryDelay doubles the base delay per completed attempt, capped at
// maxRetryDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// Compile-time interface check.
var _ domain.Queue = (*RedisQueue)(nil)
