package rebuild

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/internal/index"
	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWriter records flushes and indexed ids; failures and skips are scripted
// per id.
type fakeWriter struct {
	mu       sync.Mutex
	flushed  int
	indexed  []string
	failWith map[string]error
	skip     map[string]bool
	block    chan struct{}
}

func (w *fakeWriter) FlushIndex(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushed++
	return nil
}

func (w *fakeWriter) CreateProperty(_ context.Context, id string) (*index.Mutation, error) {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err, ok := w.failWith[id]; ok {
		return nil, err
	}
	if w.skip[id] {
		return &index.Mutation{Skipped: true}, nil
	}
	w.indexed = append(w.indexed, id)
	return &index.Mutation{}, nil
}

// idStore serves property ids for keyset streaming; other reads are unused.
type idStore struct {
	ids   []string
	calls int
}

func (s *idStore) GetProperty(context.Context, string) (*domain.IndexedProperty, error) {
	panic("not used")
}

func (s *idStore) GetUnit(context.Context, string) (*domain.IndexedUnit, error) {
	panic("not used")
}

func (s *idStore) ListUnitsByProperty(context.Context, string) ([]domain.IndexedUnit, error) {
	panic("not used")
}

func (s *idStore) ListAvailability(context.Context, string, time.Time, time.Time) ([]domain.AvailabilityPeriod, error) {
	panic("not used")
}

func (s *idStore) ListPropertyIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	s.calls++
	var out []string
	for _, id := range s.ids {
		if id > afterID {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func manyIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%04d", i)
	}
	return ids
}

func TestRebuild_FlushesThenIndexesEverything(t *testing.T) {
	w := &fakeWriter{}
	st := &idStore{ids: manyIDs(250)}
	m := NewManager(w, st, testLogger())

	summary, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, w.flushed)
	assert.Equal(t, 250, summary.Indexed)
	assert.Zero(t, summary.Skipped)
	assert.Len(t, w.indexed, 250)
	// 250 ids at chunk size 100: three fetches, the last one short.
	assert.Equal(t, 3, st.calls)
}

func TestRebuild_SkipsPartialDataAndContinues(t *testing.T) {
	w := &fakeWriter{failWith: map[string]error{
		"p0003": apperrors.PartialData("property", "p0003", "missing city"),
	}}
	st := &idStore{ids: manyIDs(10)}
	m := NewManager(w, st, testLogger())

	summary, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)
	assert.NotContains(t, w.indexed, "p0003")
}

func TestRebuild_SkipsArbitraryEntityFailureAndContinues(t *testing.T) {
	// Only a store outage aborts; any other per-entity failure is skipped.
	w := &fakeWriter{failWith: map[string]error{
		"p0004": fmt.Errorf("scan property row: unexpected null"),
	}}
	st := &idStore{ids: manyIDs(10)}
	m := NewManager(w, st, testLogger())

	summary, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)
	assert.NotContains(t, w.indexed, "p0004")
}

func TestRebuild_UnsearchableCountedAsSkipped(t *testing.T) {
	w := &fakeWriter{skip: map[string]bool{"p0001": true, "p0007": true}}
	st := &idStore{ids: manyIDs(10)}
	m := NewManager(w, st, testLogger())

	summary, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, summary.Indexed)
	assert.Equal(t, 2, summary.Skipped)
	assert.NotContains(t, w.indexed, "p0001")
	assert.NotContains(t, w.indexed, "p0007")
}

func TestRebuild_StoreFailureAborts(t *testing.T) {
	w := &fakeWriter{failWith: map[string]error{
		"p0002": apperrors.StoreUnavailable("index", assert.AnError),
	}}
	st := &idStore{ids: manyIDs(10)}
	m := NewManager(w, st, testLogger())

	_, err := m.Rebuild(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestRebuild_CancellationStopsBetweenChunks(t *testing.T) {
	w := &fakeWriter{}
	st := &idStore{ids: manyIDs(300)}
	m := NewManager(w, st, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Rebuild(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.indexed)
}

func TestRebuild_SecondConcurrentRunRejected(t *testing.T) {
	block := make(chan struct{})
	w := &fakeWriter{block: block}
	st := &idStore{ids: manyIDs(1)}
	m := NewManager(w, st, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := m.Rebuild(context.Background())
		done <- err
	}()

	// Wait for the first run to take the slot.
	require.Eventually(t, m.Running, time.Second, time.Millisecond)

	_, err := m.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrRebuildInProgress)

	close(block)
	require.NoError(t, <-done)
	assert.False(t, m.Running())
}

func TestRebuild_EmptyStore(t *testing.T) {
	w := &fakeWriter{}
	st := &idStore{}
	m := NewManager(w, st, testLogger())

	summary, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Indexed)
	assert.Equal(t, 1, w.flushed)
}
