// Package store provides the read-only API over the primary relational store.
// The index service consumes nothing else from the booking platform: get-by-id
// lookups for change notifications, a keyset stream for rebuilds, and
// availability periods for date-range filtering.
package store

import (
	"context"
	"time"

	"github.com/utafrali/StaySearchGo/internal/domain"
)

// PrimaryStore is the read API over the booking platform's relational store.
type PrimaryStore interface {
	// GetProperty loads a property projection by id, with unit aggregates
	// (min price, max capacity, units count) and amenity ids resolved.
	// Returns apperrors.ErrNotFound if the row does not exist.
	GetProperty(ctx context.Context, id string) (*domain.IndexedProperty, error)

	// GetUnit loads a unit projection by id, including its pricing timeline.
	// Returns apperrors.ErrNotFound if the row does not exist.
	GetUnit(ctx context.Context, id string) (*domain.IndexedUnit, error)

	// ListUnitsByProperty returns all units owned by the given property.
	ListUnitsByProperty(ctx context.Context, propertyID string) ([]domain.IndexedUnit, error)

	// ListPropertyIDs returns up to limit property ids greater than afterID in
	// ascending id order. An empty afterID starts from the beginning. Used by
	// the rebuild path to stream the full table in bounded chunks.
	ListPropertyIDs(ctx context.Context, afterID string, limit int) ([]string, error)

	// ListAvailability returns the availability periods of all units of the
	// property that intersect the half-open range [from, to), sorted by unit
	// id and start date.
	ListAvailability(ctx context.Context, propertyID string, from, to time.Time) ([]domain.AvailabilityPeriod, error)
}
