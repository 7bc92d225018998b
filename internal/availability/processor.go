// Package availability decides whether a property can host a stay for a date
// range and guest count, from the availability periods recorded in the
// primary store. The computation is pure: no state is kept and results are
// safe to cache by (property, range) key.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/internal/store"
)

// Processor answers availability questions for a property.
type Processor struct {
	primary store.PrimaryStore
}

// NewProcessor creates an availability processor over the primary store.
func NewProcessor(primary store.PrimaryStore) *Processor {
	return &Processor{primary: primary}
}

// IsAvailable reports whether at least one unit of the property offers an
// uninterrupted available span covering [checkIn, checkOut) with capacity for
// the requested guest count.
func (p *Processor) IsAvailable(ctx context.Context, propertyID string, checkIn, checkOut time.Time, guests int) (bool, error) {
	units, err := p.primary.ListUnitsByProperty(ctx, propertyID)
	if err != nil {
		return false, fmt.Errorf("list units of property %s: %w", propertyID, err)
	}

	periods, err := p.primary.ListAvailability(ctx, propertyID, checkIn, checkOut)
	if err != nil {
		return false, fmt.Errorf("list availability of property %s: %w", propertyID, err)
	}

	byUnit := make(map[string][]domain.AvailabilityPeriod)
	for _, period := range periods {
		if period.Status == domain.StatusAvailable {
			byUnit[period.UnitID] = append(byUnit[period.UnitID], period)
		}
	}

	for _, u := range units {
		if !u.IsActive || u.MaxCapacity < guests {
			continue
		}
		if CoversRange(byUnit[u.ID], checkIn, checkOut) {
			return true, nil
		}
	}
	return false, nil
}

// CoversRange reports whether the given available periods, possibly abutting
// or overlapping, jointly cover the half-open range [from, to) without a gap.
func CoversRange(periods []domain.AvailabilityPeriod, from, to time.Time) bool {
	if !to.After(from) {
		return false
	}

	sorted := make([]domain.AvailabilityPeriod, len(periods))
	copy(sorted, periods)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})

	cursor := from
	for _, p := range sorted {
		if p.StartDate.After(cursor) {
			// Gap before the next available span.
			return false
		}
		if p.EndDate.After(cursor) {
			cursor = p.EndDate
		}
		if !cursor.Before(to) {
			return true
		}
	}
	return !cursor.Before(to)
}
