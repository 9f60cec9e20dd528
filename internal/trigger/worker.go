package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/observability"
)

// WorkerConfig bounds one kind's bulk-check consumer.
type WorkerConfig struct {
	Concurrency int
	RatePerSec  int
	BatchSize   int // page size when loading active conditions
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Worker consumes one kind's bulk-check queue. Each job sweeps every
// active condition of the kind in one pass: load all, snapshot prices
// once per distinct token, evaluate, execute, mark. Per-condition errors
// are logged and skipped so one bad condition never starves the rest.
type Worker struct {
	evaluator Evaluator
	store     domain.TriggerStore
	prices    domain.PriceSource
	queue     domain.Queue
	cfg       WorkerConfig
	logger    *slog.Logger
}

// NewWorker creates a bulk-check worker for ev's kind.
func NewWorker(ev Evaluator, store domain.TriggerStore, prices domain.PriceSource, queue domain.Queue, cfg WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		evaluator: ev,
		store:     store,
		prices:    prices,
		queue:     queue,
		cfg:       cfg.withDefaults(),
		logger: logger.With(
			slog.String("component", "trigger"),
			slog.String("kind", string(ev.Kind()))),
	}
}

// Run consumes the kind's queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Consume(ctx, domain.QueueForKind(w.evaluator.Kind()), w.handle, domain.ConsumeOptions{
		Concurrency: w.cfg.Concurrency,
		RatePerSec:  w.cfg.RatePerSec,
	})
}

func (w *Worker) handle(ctx context.Context, job domain.Job) error {
	var check domain.BulkCheckJob
	if err := json.Unmarshal(job.Payload, &check); err != nil {
		w.logger.ErrorContext(ctx, "dropping undecodable bulk check",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return nil
	}
	if err := check.Validate(); err != nil {
		w.logger.ErrorContext(ctx, "dropping malformed bulk check",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return nil
	}
	if check.Kind != w.evaluator.Kind() {
		w.logger.WarnContext(ctx, "bulk check on wrong queue",
			slog.String("job_kind", string(check.Kind)))
		return nil
	}

	// Load the full population before evaluating. Firing deactivates rows,
	// which would slide an offset-paged window under the sweep.
	conds, err := w.loadActive(ctx, check.Kind)
	if err != nil {
		return err
	}
	if len(conds) == 0 {
		return nil
	}

	prices, err := w.snapshot(ctx, conds)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	fired := 0
	ids := make([]string, 0, len(conds))
	for _, cond := range conds {
		ids = append(ids, cond.ID)
		if w.evaluate(ctx, cond, prices, now) {
			fired++
		}
	}
	if err := w.store.TouchChecked(ctx, ids, now); err != nil {
		w.logger.WarnContext(ctx, "touch checked failed", slog.String("error", err.Error()))
	}

	w.logger.InfoContext(ctx, "bulk check done",
		slog.Int("checked", len(conds)),
		slog.Int("fired", fired))
	return nil
}

func (w *Worker) loadActive(ctx context.Context, kind domain.TriggerKind) ([]domain.TriggerCondition, error) {
	var all []domain.TriggerCondition
	for offset := 0; ; offset += w.cfg.BatchSize {
		page, err := w.store.ListActive(ctx, kind, domain.ListOpts{Limit: w.cfg.BatchSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("trigger: list active %s: %w", kind, err)
		}
		all = append(all, page...)
		if len(page) < w.cfg.BatchSize {
			return all, nil
		}
	}
}

// snapshot fetches one price per distinct token across the population.
func (w *Worker) snapshot(ctx context.Context, conds []domain.TriggerCondition) (map[string]float64, error) {
	if !w.evaluator.WantsPrices() {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(conds))
	tokens := make([]string, 0, len(conds))
	for _, c := range conds {
		if c.Token == "" {
			continue
		}
		if _, ok := seen[c.Token]; ok {
			continue
		}
		seen[c.Token] = struct{}{}
		tokens = append(tokens, c.Token)
	}
	if len(tokens) == 0 {
		return map[string]float64{}, nil
	}

	prices, err := w.prices.Prices(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("trigger: price snapshot: %w", err)
	}
	return prices, nil
}

// evaluate runs one condition through satisfied -> execute -> mark and
// reports whether it fired. Every failure path logs and moves on.
func (w *Worker) evaluate(ctx context.Context, cond domain.TriggerCondition, prices map[string]float64, now time.Time) bool {
	sat, err := w.evaluator.Satisfied(cond, prices, now)
	if err != nil {
		w.logger.WarnContext(ctx, "condition skipped",
			slog.String("condition_id", cond.ID),
			slog.String("error", err.Error()))
		return false
	}
	if !sat {
		return false
	}

	if err := w.evaluator.Execute(ctx, cond, prices); err != nil {
		w.logger.ErrorContext(ctx, "condition execution failed",
			slog.String("condition_id", cond.ID),
			slog.String("error", err.Error()))
		return false
	}

	err = w.evaluator.Mark(ctx, cond, now)
	if errors.Is(err, domain.ErrConflict) {
		w.logger.WarnContext(ctx, "condition settled by another cycle",
			slog.String("condition_id", cond.ID))
		return false
	}
	if err != nil {
		// Executed but unmarked: the next cycle re-fires. Preferable to a
		// marked condition that never executed.
		w.logger.ErrorContext(ctx, "condition mark failed after execution",
			slog.String("condition_id", cond.ID),
			slog.String("error", err.Error()))
		return false
	}

	observability.RecordTriggerFired(string(cond.Kind))
	w.logger.InfoContext(ctx, "condition fired",
		slog.String("condition_id", cond.ID),
		slog.String("user", cond.UserAddress))
	return true
}
