package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omniswap/swapd/internal/domain"
)

// SwapEventStore implements domain.SwapEventStore using PostgreSQL.
// The table is an append-only transition log; rows are never updated.
type SwapEventStore struct {
	pool *pgxpool.Pool
}

// NewSwapEventStore creates a new SwapEventStore backed by the given
// connection pool.
func NewSwapEventStore(pool *pgxpool.Pool) *SwapEventStore {
	return &SwapEventStore{pool: pool}
}

// Log appends a transition event for a swap. The detail map is stored as
// JSONB in the database.
func (s *SwapEventStore) Log(ctx context.Context, swapID string, eventType string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	const query = `INSERT INTO swap_events (swap_id, event_type, detail) VALUES ($1, $2, $3)`
	_, err = s.pool.Exec(ctx, query, swapID, eventType, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: log swap event %s: %w", eventType, err)
	}
	return nil
}

// ListBySwap returns a swap's events in insertion order.
func (s *SwapEventStore) ListBySwap(ctx context.Context, swapID string, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	query := `SELECT id, swap_id, event_type, detail, created_at FROM swap_events WHERE swap_id = $1 ORDER BY id`
	args := []any{swapID}
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

	return s.list(ctx, query, args)
}

// ListBefore returns events created before the cutoff in insertion order,
// the archiver's drain query.
func (s *SwapEventStore) ListBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	query := `SELECT id, swap_id, event_type, detail, created_at FROM swap_events WHERE created_at < $1 ORDER BY id`
	args := []any{cutoff}
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

	return s.list(ctx, query, args)
}

func (s *SwapEventStore) list(ctx context.Context, query string, args []any) ([]domain.SwapEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list swap events: %w", err)
	}
	defer rows.Close()

	var events []domain.SwapEvent
	for rows.Next() {
		event, err := scanSwapEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list swap events rows: %w", err)
	}
	return events, nil
}

func scanSwapEvent(row pgx.Row) (domain.SwapEvent, error) {
	var e domain.SwapEvent
	var detailJSON []byte
	if err := row.Scan(&e.ID, &e.SwapID, &e.Type, &detailJSON, &e.CreatedAt); err != nil {
		return domain.SwapEvent{}, fmt.Errorf("postgres: scan swap event: %w", err)
	}
	if detailJSON != nil {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return domain.SwapEvent{}, fmt.Errorf("postgres: unmarshal event detail: %w", err)
		}
	}
	return e, nil
}

// Compile-time interface check.
var _ domain.SwapEventStore = (*SwapEventStore)(nil)
