package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omniswap/swapd/internal/domain"
)

const triggerColumns = `id, kind, user_address, tenant_id, token, chain, comparison, target_price,
	from_token, to_token, amount, slippage_bps, interval_sec, next_run_at,
	active, execution_number, fired_at, last_checked_at, created_at`

// TriggerStore implements domain.TriggerStore using PostgreSQL. MarkFired
// and MarkExecuted are conditional updates so that two racing check cycles
// produce exactly one fire per condition.
type TriggerStore struct {
	pool *pgxpool.Pool
}

// NewTriggerStore creates a new TriggerStore backed by the given connection pool.
func NewTriggerStore(pool *pgxpool.Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

// Create inserts a trigger condition.
func (s *TriggerStore) Create(ctx context.Context, cond domain.TriggerCondition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trigger_conditions (id, kind, user_address, tenant_id, token, chain, comparison, target_price, from_token, to_token, amount, slippage_bps, interval_sec, next_run_at, active, execution_number, fired_at, last_checked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		cond.ID, string(cond.Kind), cond.UserAddress, cond.TenantID,
		cond.Token, cond.Chain, string(cond.Comparison), cond.TargetPrice,
		cond.FromToken, cond.ToToken, cond.Amount, cond.SlippageBps,
		cond.IntervalSec, cond.NextRunAt, cond.Active, cond.ExecutionNumber,
		cond.FiredAt, cond.LastCheckedAt, cond.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trigger_condition: %w", err)
	}
	return nil
}

// GetByID returns a trigger condition by id.
func (s *TriggerStore) GetByID(ctx context.Context, id string) (domain.TriggerCondition, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+triggerColumns+` FROM trigger_conditions WHERE id = $1`, id)
	cond, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TriggerCondition{}, domain.ErrNotFound
		}
		return domain.TriggerCondition{}, fmt.Errorf("postgres: get trigger_condition %s: %w", id, err)
	}
	return cond, nil
}

// ListActive returns active conditions of the given kind in creation order,
// the working set for one bulk-check pass.
func (s *TriggerStore) ListActive(ctx context.Context, kind domain.TriggerKind, opts domain.ListOpts) ([]domain.TriggerCondition, error) {
	query := `SELECT ` + triggerColumns + ` FROM trigger_conditions WHERE active AND kind = $1 ORDER BY created_at`
	args := []any{string(kind)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active trigger_conditions: %w", err)
	}
	defer rows.Close()

	var list []domain.TriggerCondition
	for rows.Next() {
		cond, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trigger_condition: %w", err)
		}
		list = append(list, cond)
	}
	return list, rows.Err()
}

// ListByUser returns a user's conditions, newest first, active or not.
func (s *TriggerStore) ListByUser(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.TriggerCondition, error) {
	query := `SELECT ` + triggerColumns + ` FROM trigger_conditions WHERE user_address = $1 ORDER BY created_at DESC`
	args := []any{userAddress}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trigger_conditions by user: %w", err)
	}
	defer rows.Close()

	var list []domain.TriggerCondition
	for rows.Next() {
		cond, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trigger_condition: %w", err)
		}
		list = append(list, cond)
	}
	return list, rows.Err()
}

// Deactivate turns a condition off at the user's request.
func (s *TriggerStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE trigger_conditions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate trigger_condition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFired deactivates a one-shot condition. Only an active condition can
// fire, so the losing cycle of a race gets ErrConflict.
func (s *TriggerStore) MarkFired(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trigger_conditions SET active = FALSE, fired_at = $2
		WHERE id = $1 AND active`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark trigger_condition fired %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.triggerConflict(ctx, id)
	}
	return nil
}

// MarkExecuted advances a DCA schedule: the execution counter increments
// only from its expected value, and the next slot is stamped.
func (s *TriggerStore) MarkExecuted(ctx context.Context, id string, fromExecution int, nextRunAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trigger_conditions SET execution_number = $2 + 1, next_run_at = $3, fired_at = NOW()
		WHERE id = $1 AND execution_number = $2 AND active`,
		id, fromExecution, nextRunAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark trigger_condition executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.triggerConflict(ctx, id)
	}
	return nil
}

// TouchChecked stamps last_checked_at on a batch of conditions.
func (s *TriggerStore) TouchChecked(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE trigger_conditions SET last_checked_at = $2 WHERE id = ANY($1)`,
		ids, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: touch trigger_conditions: %w", err)
	}
	return nil
}

func (s *TriggerStore) triggerConflict(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM trigger_conditions WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check trigger_condition %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// scanTrigger scans one trigger_conditions row.
func scanTrigger(row pgx.Row) (domain.TriggerCondition, error) {
	var cond domain.TriggerCondition
	var kind, comparison string
	if err := row.Scan(&cond.ID, &kind, &cond.UserAddress, &cond.TenantID,
		&cond.Token, &cond.Chain, &comparison, &cond.TargetPrice,
		&cond.FromToken, &cond.ToToken, &cond.Amount, &cond.SlippageBps,
		&cond.IntervalSec, &cond.NextRunAt, &cond.Active, &cond.ExecutionNumber,
		&cond.FiredAt, &cond.LastCheckedAt, &cond.CreatedAt); err != nil {
		return domain.TriggerCondition{}, err
	}
	cond.Kind = domain.TriggerKind(kind)
	cond.Comparison = domain.Comparison(comparison)
	return cond, nil
}

// Compile-time interface check.
var _ domain.TriggerStore = (*TriggerStore)(nil)
