package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/observability"
)

const (
	// archiveBatchSize bounds how many swaps one run exports.
	archiveBatchSize = 500

	// eventPageSize bounds each event history page fetched per run.
	eventPageSize = 1000
)

// SwapArchiveStore provides read access to terminal swaps for archival.
// The Postgres SwapStore satisfies this through ListTerminalBefore.
type SwapArchiveStore interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Swap, error)
}

// EventArchiveStore provides read access to old swap events for archival.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.SwapEvent, error)
}

// SwapArchiver implements domain.Archiver by exporting terminal swaps,
// with their full event history, as one JSONL object per swap under
// <prefix>/<YYYY-MM>/<swap-id>.jsonl. Keys are deterministic, so a run that
// died halfway resumes by skipping objects that already exist.
//
// Archived rows are not deleted from the primary store here; pruning is a
// separate, explicit step taken after an archive has been verified.
type SwapArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	swaps  SwapArchiveStore
	events EventArchiveStore
	prefix string
	logger *slog.Logger
}

// NewSwapArchiver creates an archiver writing under the given key prefix.
func NewSwapArchiver(writer domain.BlobWriter, reader domain.BlobReader, swaps SwapArchiveStore, events EventArchiveStore, prefix string, logger *slog.Logger) *SwapArchiver {
	if prefix == "" {
		prefix = "swaps"
	}
	return &SwapArchiver{
		writer: writer,
		reader: reader,
		swaps:  swaps,
		events: events,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archiveRecord is one line of an archive object. The first line of each
// object carries the swap; the following lines carry its events in order.
type archiveRecord struct {
	Kind  string            `json:"kind"`
	Swap  *domain.Swap      `json:"swap,omitempty"`
	Event *domain.SwapEvent `json:"event,omitempty"`
}

// ArchiveSwaps exports terminal swaps created before the cutoff and returns
// how many objects this run wrote. Already-exported swaps are skipped.
func (a *SwapArchiver) ArchiveSwaps(ctx context.Context, before time.Time) (int64, error) {
	swaps, err := a.swaps.ListTerminalBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list terminal swaps: %w", err)
	}
	if len(swaps) == 0 {
		return 0, nil
	}

	eventsBySwap, err := a.collectEvents(ctx, before)
	if err != nil {
		return 0, err
	}

	archived, err := a.alreadyArchived(ctx, swaps)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, swap := range swaps {
		key := a.objectKey(swap)
		if archived[key] {
			continue
		}

		buf, err := encodeArchive(swap, eventsBySwap[swap.ID])
		if err != nil {
			return count, fmt.Errorf("s3blob: encode swap %s: %w", swap.ID, err)
		}
		if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return count, fmt.Errorf("s3blob: upload swap %s: %w", swap.ID, err)
		}
		count++
	}

	if count > 0 {
		observability.RecordSwapsArchived(int(count))
		a.logger.InfoContext(ctx, "terminal swaps archived",
			slog.Int64("count", count),
			slog.Int("batch", len(swaps)),
			slog.Time("before", before),
		)
	}
	return count, nil
}

// collectEvents pages through the event history older than the cutoff and
// groups it by swap. One scan serves the whole batch.
func (a *SwapArchiver) collectEvents(ctx context.Context, before time.Time) (map[string][]domain.SwapEvent, error) {
	bySwap := make(map[string][]domain.SwapEvent)
	offset := 0
	for {
		page, err := a.events.ListBefore(ctx, before, domain.ListOpts{Limit: eventPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("s3blob: list events before %s: %w", before.Format(time.RFC3339), err)
		}
		for _, ev := range page {
			bySwap[ev.SwapID] = append(bySwap[ev.SwapID], ev)
		}
		if len(page) < eventPageSize {
			return bySwap, nil
		}
		offset += len(page)
	}
}

// alreadyArchived lists each month partition touched by the batch and
// returns the set of keys that already exist.
func (a *SwapArchiver) alreadyArchived(ctx context.Context, swaps []domain.Swap) (map[string]bool, error) {
	months := make(map[string]bool)
	for _, swap := range swaps {
		months[swap.CreatedAt.UTC().Format("2006-01")] = true
	}

	existing := make(map[string]bool)
	for month := range months {
		infos, err := a.reader.List(ctx, a.prefix+"/"+month+"/")
		if err != nil {
			return nil, fmt.Errorf("s3blob: list archive partition %s: %w", month, err)
		}
		for _, info := range infos {
			existing[info.Path] = true
		}
	}
	return existing, nil
}

// objectKey partitions archive objects by the month the swap was created.
//
//	swaps/2026-08/2f1c....jsonl
func (a *SwapArchiver) objectKey(swap domain.Swap) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", a.prefix, swap.CreatedAt.UTC().Format("2006-01"), swap.ID)
}

// encodeArchive serialises one swap and its events as newline-delimited
// JSON, swap first, events in insertion order.
func encodeArchive(swap domain.Swap, events []domain.SwapEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(archiveRecord{Kind: "swap", Swap: &swap}); err != nil {
		return nil, fmt.Errorf("encode swap line: %w", err)
	}
	for i := range events {
		if err := enc.Encode(archiveRecord{Kind: "event", Event: &events[i]}); err != nil {
			return nil, fmt.Errorf("encode event line %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*SwapArchiver)(nil)
