package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/StaySearchGo/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC)
}

func period(unitID string, start, end int, status domain.AvailabilityStatus) domain.AvailabilityPeriod {
	return domain.AvailabilityPeriod{UnitID: unitID, StartDate: day(start), EndDate: day(end), Status: status}
}

// fakeStore implements the slice of store.PrimaryStore the processor uses.
type fakeStore struct {
	units   []domain.IndexedUnit
	periods []domain.AvailabilityPeriod
	err     error
}

func (f *fakeStore) GetProperty(context.Context, string) (*domain.IndexedProperty, error) {
	panic("not used")
}

func (f *fakeStore) GetUnit(context.Context, string) (*domain.IndexedUnit, error) {
	panic("not used")
}

func (f *fakeStore) ListUnitsByProperty(context.Context, string) ([]domain.IndexedUnit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.units, nil
}

func (f *fakeStore) ListPropertyIDs(context.Context, string, int) ([]string, error) {
	panic("not used")
}

func (f *fakeStore) ListAvailability(context.Context, string, time.Time, time.Time) ([]domain.AvailabilityPeriod, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.periods, nil
}

func TestCoversRange_SinglePeriod(t *testing.T) {
	periods := []domain.AvailabilityPeriod{period("u1", 1, 10, domain.StatusAvailable)}
	assert.True(t, CoversRange(periods, day(2), day(5)))
	assert.True(t, CoversRange(periods, day(1), day(10)))
	assert.False(t, CoversRange(periods, day(5), day(11)))
}

func TestCoversRange_AbuttingPeriods(t *testing.T) {
	periods := []domain.AvailabilityPeriod{
		period("u1", 1, 5, domain.StatusAvailable),
		period("u1", 5, 10, domain.StatusAvailable),
	}
	assert.True(t, CoversRange(periods, day(2), day(8)))
}

func TestCoversRange_GapFails(t *testing.T) {
	periods := []domain.AvailabilityPeriod{
		period("u1", 1, 5, domain.StatusAvailable),
		period("u1", 6, 10, domain.StatusAvailable),
	}
	assert.False(t, CoversRange(periods, day(2), day(8)))
}

func TestCoversRange_UnsortedInput(t *testing.T) {
	periods := []domain.AvailabilityPeriod{
		period("u1", 5, 10, domain.StatusAvailable),
		period("u1", 1, 5, domain.StatusAvailable),
	}
	assert.True(t, CoversRange(periods, day(1), day(9)))
}

func TestCoversRange_OverlappingPeriods(t *testing.T) {
	periods := []domain.AvailabilityPeriod{
		period("u1", 1, 6, domain.StatusAvailable),
		period("u1", 4, 10, domain.StatusAvailable),
	}
	assert.True(t, CoversRange(periods, day(2), day(9)))
}

func TestCoversRange_EmptyOrInvertedRange(t *testing.T) {
	periods := []domain.AvailabilityPeriod{period("u1", 1, 10, domain.StatusAvailable)}
	assert.False(t, CoversRange(nil, day(1), day(2)))
	assert.False(t, CoversRange(periods, day(5), day(5)))
	assert.False(t, CoversRange(periods, day(6), day(4)))
}

func TestIsAvailable_OneUnitCovers(t *testing.T) {
	st := &fakeStore{
		units: []domain.IndexedUnit{
			{ID: "u1", IsActive: true, MaxCapacity: 2},
			{ID: "u2", IsActive: true, MaxCapacity: 4},
		},
		periods: []domain.AvailabilityPeriod{
			period("u1", 1, 3, domain.StatusAvailable),
			period("u2", 1, 10, domain.StatusAvailable),
		},
	}
	p := NewProcessor(st)

	ok, err := p.IsAvailable(context.Background(), "p1", day(2), day(8), 3)
	require.NoError(t, err)
	assert.True(t, ok, "u2 covers the range with capacity for 3")
}

func TestIsAvailable_CapacityExcludesCoveringUnit(t *testing.T) {
	st := &fakeStore{
		units: []domain.IndexedUnit{
			{ID: "u1", IsActive: true, MaxCapacity: 2},
		},
		periods: []domain.AvailabilityPeriod{
			period("u1", 1, 10, domain.StatusAvailable),
		},
	}
	p := NewProcessor(st)

	ok, err := p.IsAvailable(context.Background(), "p1", day(2), day(8), 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAvailable_NonAvailableStatusIgnored(t *testing.T) {
	st := &fakeStore{
		units: []domain.IndexedUnit{
			{ID: "u1", IsActive: true, MaxCapacity: 4},
		},
		periods: []domain.AvailabilityPeriod{
			period("u1", 1, 5, domain.StatusAvailable),
			period("u1", 5, 10, domain.StatusBooked),
		},
	}
	p := NewProcessor(st)

	ok, err := p.IsAvailable(context.Background(), "p1", day(2), day(8), 2)
	require.NoError(t, err)
	assert.False(t, ok, "booked span breaks coverage")
}

func TestIsAvailable_InactiveUnitIgnored(t *testing.T) {
	st := &fakeStore{
		units: []domain.IndexedUnit{
			{ID: "u1", IsActive: false, MaxCapacity: 4},
		},
		periods: []domain.AvailabilityPeriod{
			period("u1", 1, 10, domain.StatusAvailable),
		},
	}
	p := NewProcessor(st)

	ok, err := p.IsAvailable(context.Background(), "p1", day(2), day(8), 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAvailable_StoreErrorPropagates(t *testing.T) {
	st := &fakeStore{err: assert.AnError}
	p := NewProcessor(st)

	_, err := p.IsAvailable(context.Background(), "p1", day(2), day(8), 2)
	assert.Error(t, err)
}
