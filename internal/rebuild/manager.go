// Package rebuild reconstructs the entire index from the primary store. A
// rebuild is the recovery path for index loss or drift: it flushes every index
// key, then re-indexes properties in chunks streamed by keyset pagination.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/utafrali/StaySearchGo/internal/index"
	"github.com/utafrali/StaySearchGo/internal/store"
	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
)

// DefaultChunkSize is the number of property ids fetched and indexed per
// chunk. Cancellation is honored between chunks, so the chunk size also bounds
// how long a stop request can lag.
const DefaultChunkSize = 100

// indexWriter is the slice of the index writer the rebuild path uses.
type indexWriter interface {
	FlushIndex(ctx context.Context) error
	CreateProperty(ctx context.Context, id string) (*index.Mutation, error)
}

// Summary reports the outcome of a completed rebuild.
type Summary struct {
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"-"`
}

// ErrRebuildInProgress is returned when a rebuild is requested while another
// one is still running.
var ErrRebuildInProgress = errors.New("rebuild already in progress")

// Manager runs full index rebuilds. At most one rebuild runs at a time per
// instance.
type Manager struct {
	writer    indexWriter
	primary   store.PrimaryStore
	logger    *slog.Logger
	chunkSize int
	running   atomic.Bool
}

// NewManager creates a rebuild manager with the default chunk size.
func NewManager(writer indexWriter, primary store.PrimaryStore, logger *slog.Logger) *Manager {
	return &Manager{
		writer:    writer,
		primary:   primary,
		logger:    logger,
		chunkSize: DefaultChunkSize,
	}
}

// Running reports whether a rebuild is currently in progress.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// Rebuild flushes the index and re-indexes every property from the primary
// store. Any per-entity failure is skipped and counted, as are entities the
// writer declined to index (vanished or unsearchable); only a store outage
// aborts the rebuild. Context cancellation stops it between chunks, leaving a
// partially built index behind: the caller is expected to either finish a
// later rebuild or accept the gap.
func (m *Manager) Rebuild(ctx context.Context) (*Summary, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrRebuildInProgress
	}
	defer m.running.Store(false)

	start := time.Now()
	m.logger.InfoContext(ctx, "index rebuild started")

	if err := m.writer.FlushIndex(ctx); err != nil {
		rebuildsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("flush index: %w", err)
	}

	summary := &Summary{}
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			m.logger.WarnContext(ctx, "index rebuild canceled",
				slog.Int("indexed", summary.Indexed),
				slog.Int("skipped", summary.Skipped),
			)
			rebuildsTotal.WithLabelValues("canceled").Inc()
			return nil, err
		}

		ids, err := m.primary.ListPropertyIDs(ctx, afterID, m.chunkSize)
		if err != nil {
			rebuildsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("list property ids after %q: %w", afterID, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			mut, err := m.writer.CreateProperty(ctx, id)
			if err != nil {
				if errors.Is(err, apperrors.ErrStoreUnavailable) {
					rebuildsTotal.WithLabelValues("error").Inc()
					return nil, fmt.Errorf("rebuild property %s: %w", id, err)
				}
				if ctx.Err() != nil {
					rebuildsTotal.WithLabelValues("canceled").Inc()
					return nil, ctx.Err()
				}
				m.logger.WarnContext(ctx, "skipping property that failed to index",
					slog.String("property_id", id),
					slog.String("error", err.Error()),
				)
				summary.Skipped++
				continue
			}
			if mut.Skipped {
				summary.Skipped++
				continue
			}
			summary.Indexed++
		}

		afterID = ids[len(ids)-1]
		if len(ids) < m.chunkSize {
			break
		}
	}

	summary.Duration = time.Since(start)
	rebuildsTotal.WithLabelValues("success").Inc()
	rebuildDuration.Observe(summary.Duration.Seconds())
	m.logger.InfoContext(ctx, "index rebuild finished",
		slog.Int("indexed", summary.Indexed),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}
