package domain

import (
	"time"
)

// IndexedUnit is the denormalized projection of a unit row. A unit belongs to
// exactly one property for its whole indexed lifetime; moving a unit between
// properties is modeled as delete + create.
type IndexedUnit struct {
	ID               string    `json:"id"`
	PropertyID       string    `json:"property_id"`
	UnitTypeID       string    `json:"unit_type_id"`
	BasePrice        int64     `json:"base_price"`
	Currency         string    `json:"currency"`
	MaxCapacity      int       `json:"max_capacity"`
	AdultsCapacity   int       `json:"adults_capacity"`
	ChildrenCapacity int       `json:"children_capacity"`
	IsActive         bool      `json:"is_active"`

	// PricingTimeline holds date-scoped price overrides, sorted by start date.
	PricingTimeline []PricePoint `json:"pricing_timeline,omitempty"`
}

// PricePoint is a dated price override within a unit's pricing timeline.
type PricePoint struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Price     int64     `json:"price"`
}
