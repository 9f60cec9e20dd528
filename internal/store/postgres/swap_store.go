package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omniswap/swapd/internal/domain"
)

const swapColumns = `id, user_address, tenant_id, quote_id, route_id, route, status, current_step_index,
	input_amount, expected_output, actual_output, platform_fee, gas_cost, error,
	created_at, started_at, completed_at`

// nonTerminal guards every conditional update: terminal swaps never move again.
const nonTerminal = `status NOT IN ('completed', 'failed', 'refunded')`

// SwapStore implements domain.SwapStore using PostgreSQL. Every state
// transition is a conditional UPDATE keyed on the expected prior state, so
// concurrent executors and monitors cannot double-apply a transition.
type SwapStore struct {
	pool *pgxpool.Pool
}

// NewSwapStore creates a new SwapStore backed by the given connection pool.
func NewSwapStore(pool *pgxpool.Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Create inserts a swap and one execution row per route step in a single
// transaction.
func (s *SwapStore) Create(ctx context.Context, swap domain.Swap) error {
	route, err := json.Marshal(swap.Route)
	if err != nil {
		return fmt.Errorf("postgres: marshal route: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO swaps (id, user_address, tenant_id, quote_id, route_id, route, status, current_step_index, input_amount, expected_output, actual_output, platform_fee, gas_cost, error, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		swap.ID, swap.UserAddress, swap.TenantID, swap.QuoteID, swap.RouteID, route,
		string(swap.Status), swap.CurrentStepIndex, swap.InputAmount, swap.ExpectedOutput,
		swap.ActualOutput, swap.PlatformFee, swap.GasCost, swap.Error,
		swap.CreatedAt, swap.StartedAt, swap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert swap: %w", err)
	}

	for _, step := range swap.Steps {
		_, err = tx.Exec(ctx, `
			INSERT INTO swap_steps (swap_id, step_index, status, tx_hash, block_number, actual_output, error, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			swap.ID, step.StepIndex, string(step.Status), step.TxHash, step.BlockNumber,
			step.ActualOutput, step.Error, step.StartedAt, step.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert swap_step: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns a swap with its step execution records.
func (s *SwapStore) GetByID(ctx context.Context, id string) (domain.Swap, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = $1`, id)
	swap, err := scanSwap(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Swap{}, domain.ErrNotFound
		}
		return domain.Swap{}, fmt.Errorf("postgres: get swap %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT step_index, status, tx_hash, block_number, actual_output, error, started_at, completed_at
		FROM swap_steps WHERE swap_id = $1 ORDER BY step_index`,
		id,
	)
	if err != nil {
		return domain.Swap{}, fmt.Errorf("postgres: get swap_steps %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var step domain.SwapStepExecution
		var status string
		if err := rows.Scan(&step.StepIndex, &status, &step.TxHash, &step.BlockNumber,
			&step.ActualOutput, &step.Error, &step.StartedAt, &step.CompletedAt); err != nil {
			return domain.Swap{}, fmt.Errorf("postgres: scan swap_step: %w", err)
		}
		step.Status = domain.StepStatus(status)
		swap.Steps = append(swap.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return domain.Swap{}, fmt.Errorf("postgres: get swap_steps rows: %w", err)
	}
	return swap, nil
}

// ListByUser returns a user's swaps, newest first. Step records are not
// loaded; callers that need them fetch the swap by id.
func (s *SwapStore) ListByUser(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE user_address = $1`
	args := []any{userAddress}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list swaps by user: %w", err)
	}
	defer rows.Close()

	var list []domain.Swap
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan swap: %w", err)
		}
		list = append(list, swap)
	}
	return list, rows.Err()
}

// ListTerminalBefore returns swaps that reached a terminal state before the
// cutoff, oldest first. The archiver drains them in batches.
func (s *SwapStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Swap, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+swapColumns+` FROM swaps
		WHERE status IN ('completed', 'failed', 'refunded') AND completed_at < $1
		ORDER BY completed_at ASC LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal swaps: %w", err)
	}
	defer rows.Close()

	var list []domain.Swap
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan swap: %w", err)
		}
		list = append(list, swap)
	}
	return list, rows.Err()
}

// UpdateStatus transitions the swap from one status to another. The first
// transition out of pending also stamps started_at.
func (s *SwapStore) UpdateStatus(ctx context.Context, id string, from, to domain.SwapStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swaps SET status = $3, started_at = COALESCE(started_at, NOW())
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("postgres: update swap status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.swapConflict(ctx, id)
	}
	return nil
}

// AdvanceStep moves current_step_index from fromIndex to fromIndex+1 and
// applies the next phase status.
func (s *SwapStore) AdvanceStep(ctx context.Context, id string, fromIndex int, status domain.SwapStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swaps SET current_step_index = $2 + 1, status = $3
		WHERE id = $1 AND current_step_index = $2 AND `+nonTerminal,
		id, fromIndex, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: advance swap step %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.swapConflict(ctx, id)
	}
	return nil
}

// Complete marks the swap completed with its final output and total gas cost.
func (s *SwapStore) Complete(ctx context.Context, id string, actualOutput string, gasCost string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swaps SET status = 'completed', actual_output = $2, gas_cost = $3, completed_at = NOW()
		WHERE id = $1 AND `+nonTerminal,
		id, actualOutput, gasCost,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete swap %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.swapConflict(ctx, id)
	}
	return nil
}

// Fail marks the swap failed with a reason, from any non-terminal state.
func (s *SwapStore) Fail(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swaps SET status = 'failed', error = $2, completed_at = NOW()
		WHERE id = $1 AND `+nonTerminal,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: fail swap %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.swapConflict(ctx, id)
	}
	return nil
}

// MarkStepSubmitted records the broadcast tx hash and moves the step from
// pending to submitted.
func (s *SwapStore) MarkStepSubmitted(ctx context.Context, swapID string, stepIndex int, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swap_steps SET status = 'submitted', tx_hash = $3, started_at = COALESCE(started_at, NOW())
		WHERE swap_id = $1 AND step_index = $2 AND status = 'pending'`,
		swapID, stepIndex, txHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark step submitted %s/%d: %w", swapID, stepIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stepConflict(ctx, swapID, stepIndex)
	}
	return nil
}

// MarkStepConfirming records that the transaction is included but has not
// reached finality yet.
func (s *SwapStore) MarkStepConfirming(ctx context.Context, swapID string, stepIndex int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swap_steps SET status = 'confirming'
		WHERE swap_id = $1 AND step_index = $2 AND status = 'submitted'`,
		swapID, stepIndex,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark step confirming %s/%d: %w", swapID, stepIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stepConflict(ctx, swapID, stepIndex)
	}
	return nil
}

// MarkStepConfirmed finalizes a step. A step may confirm straight from
// submitted when the first poll already sees finality.
func (s *SwapStore) MarkStepConfirmed(ctx context.Context, swapID string, stepIndex int, blockNumber int64, actualOutput string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swap_steps SET status = 'confirmed', block_number = $3, actual_output = $4, completed_at = NOW()
		WHERE swap_id = $1 AND step_index = $2 AND status IN ('submitted', 'confirming')`,
		swapID, stepIndex, blockNumber, actualOutput,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark step confirmed %s/%d: %w", swapID, stepIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stepConflict(ctx, swapID, stepIndex)
	}
	return nil
}

// MarkStepFailed terminates a step with a reason, from any non-terminal
// step state.
func (s *SwapStore) MarkStepFailed(ctx context.Context, swapID string, stepIndex int, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE swap_steps SET status = 'failed', error = $3, completed_at = NOW()
		WHERE swap_id = $1 AND step_index = $2 AND status NOT IN ('confirmed', 'failed')`,
		swapID, stepIndex, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark step failed %s/%d: %w", swapID, stepIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stepConflict(ctx, swapID, stepIndex)
	}
	return nil
}

// swapConflict distinguishes a missing swap from a failed precondition after
// a conditional update matched zero rows.
func (s *SwapStore) swapConflict(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM swaps WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check swap %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (s *SwapStore) stepConflict(ctx context.Context, swapID string, stepIndex int) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM swap_steps WHERE swap_id = $1 AND step_index = $2)`,
		swapID, stepIndex,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check swap_step %s/%d: %w", swapID, stepIndex, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// scanSwap scans one swaps row. Works for both QueryRow and Query results.
func scanSwap(row pgx.Row) (domain.Swap, error) {
	var swap domain.Swap
	var routeJSON []byte
	var status string
	if err := row.Scan(&swap.ID, &swap.UserAddress, &swap.TenantID, &swap.QuoteID, &swap.RouteID,
		&routeJSON, &status, &swap.CurrentStepIndex, &swap.InputAmount, &swap.ExpectedOutput,
		&swap.ActualOutput, &swap.PlatformFee, &swap.GasCost, &swap.Error,
		&swap.CreatedAt, &swap.StartedAt, &swap.CompletedAt); err != nil {
		return domain.Swap{}, err
	}
	if err := json.Unmarshal(routeJSON, &swap.Route); err != nil {
		return domain.Swap{}, fmt.Errorf("unmarshal route: %w", err)
	}
	swap.Status = domain.SwapStatus(status)
	return swap, nil
}

// Compile-time interface check.
var _ domain.SwapStore = (*SwapStore)(nil)
