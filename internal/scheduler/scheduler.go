// Package scheduler owns the trigger check cadences. One ticker per kind
// enqueues a single dedupe-keyed bulk-check job per interval slot; a
// distributed lock collapses overlapping replicas, so scaling the
// scheduler out never multiplies the sweep work.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omniswap/swapd/internal/domain"
)

// Bulk-check jobs retry on handler failure before dead-lettering.
const (
	checkAttempts = 3
	checkBackoff  = time.Second
)

// Config holds per-kind sweep intervals and replica-coordination bounds.
type Config struct {
	Alerts      time.Duration
	LimitOrders time.Duration
	DCA         time.Duration
	LockTTL     time.Duration
	Jitter      time.Duration // startup stagger per ticker
}

func (c Config) withDefaults() Config {
	if c.Alerts <= 0 {
		c.Alerts = 30 * time.Second
	}
	if c.LimitOrders <= 0 {
		c.LimitOrders = 15 * time.Second
	}
	if c.DCA <= 0 {
		c.DCA = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	return c
}

// Scheduler runs the check tickers.
type Scheduler struct {
	queue  domain.Queue
	locks  domain.LockManager
	cfg    Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(queue domain.Queue, locks domain.LockManager, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		queue:  queue,
		locks:  locks,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Run starts one ticker per trigger kind and blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	cadences := []struct {
		kind     domain.TriggerKind
		interval time.Duration
	}{
		{domain.TriggerKindPriceAlert, s.cfg.Alerts},
		{domain.TriggerKindLimitOrder, s.cfg.LimitOrders},
		{domain.TriggerKindDCA, s.cfg.DCA},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range cadences {
		g.Go(func() error {
			return s.loop(ctx, c.kind, c.interval)
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, kind domain.TriggerKind, interval time.Duration) error {
	if s.cfg.Jitter > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(rand.Int63n(int64(s.cfg.Jitter)))):
		}
	}

	s.tick(ctx, kind, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "ticker stopped", slog.String("kind", string(kind)))
			return nil
		case <-ticker.C:
			s.tick(ctx, kind, interval)
		}
	}
}

// tick enqueues the bulk-check job for the current interval slot. The
// slot timestamp doubles as the dedupe key, so a re-tick inside the same
// slot and a racing replica both collapse onto one job.
func (s *Scheduler) tick(ctx context.Context, kind domain.TriggerKind, interval time.Duration) {
	unlock, err := s.locks.Acquire(ctx, "scheduler:"+string(kind), s.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "scheduler lock failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return
	}
	defer unlock()

	job := domain.BulkCheckJob{
		Kind:        kind,
		ScheduledAt: time.Now().UTC().Truncate(interval),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal bulk check",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return
	}

	err = s.queue.Enqueue(ctx, domain.QueueForKind(kind), payload, domain.EnqueueOptions{
		Attempts:  checkAttempts,
		Backoff:   checkBackoff,
		DedupeKey: job.DedupeKey(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "enqueue bulk check",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return
	}

	s.logger.DebugContext(ctx, "bulk check scheduled",
		slog.String("kind", string(kind)),
		slog.Time("slot", job.ScheduledAt))
}
