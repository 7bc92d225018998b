package domain

import (
	"time"
)

// IndexedProperty is the denormalized projection of a property row held in
// the index store for search purposes. It carries every attribute a search
// request can filter or sort on, so that queries never touch the primary store
// except for availability checks.
type IndexedProperty struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	City           string            `json:"city"`
	PropertyTypeID string            `json:"property_type_id"`
	MinPrice       int64             `json:"min_price"`
	Currency       string            `json:"currency"`
	AverageRating  float64           `json:"average_rating"`
	StarRating     int               `json:"star_rating"`
	MaxCapacity    int               `json:"max_capacity"`
	UnitsCount     int               `json:"units_count"`
	BookingCount   int64             `json:"booking_count"`
	Latitude       float64           `json:"latitude"`
	Longitude      float64           `json:"longitude"`
	IsActive       bool              `json:"is_active"`
	IsApproved     bool              `json:"is_approved"`
	CreatedAt      time.Time         `json:"created_at"`
	AmenityIDs     []string          `json:"amenity_ids"`
	DynamicFields  map[string]string `json:"dynamic_fields,omitempty"`
}

// Searchable reports whether the property may appear in any searchable
// structure. Inactive or unapproved properties are kept out of every
// membership set and ranking structure.
func (p *IndexedProperty) Searchable() bool {
	return p.IsActive && p.IsApproved
}
