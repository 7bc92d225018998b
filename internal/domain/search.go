package domain

import (
	"time"

	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
	"github.com/utafrali/StaySearchGo/pkg/validator"
)

// Sort options for search results.
const (
	SortPriceAsc   = "price_asc"
	SortPriceDesc  = "price_desc"
	SortRating     = "rating"
	SortNewest     = "newest"
	SortPopularity = "popularity"
)

// ValidSortOptions returns the list of valid sort options.
func ValidSortOptions() []string {
	return []string{SortPriceAsc, SortPriceDesc, SortRating, SortNewest, SortPopularity}
}

// IsValidSort checks whether the given sort string is a valid sort option.
func IsValidSort(sort string) bool {
	for _, s := range ValidSortOptions() {
		if s == sort {
			return true
		}
	}
	return false
}

// SearchRequest holds all parameters for a property search.
type SearchRequest struct {
	Query          string            `json:"query"`
	City           string            `json:"city"`
	PropertyTypeID string            `json:"property_type_id"`
	MinPrice       *int64            `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxPrice       *int64            `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	MinRating      *float64          `json:"min_rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	MaxRating      *float64          `json:"max_rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	GuestCount     int               `json:"guest_count" validate:"gte=0"`
	AmenityIDs     []string          `json:"amenity_ids,omitempty"`
	DynamicFields  map[string]string `json:"dynamic_fields,omitempty"`
	CheckIn        *time.Time        `json:"check_in,omitempty"`
	CheckOut       *time.Time        `json:"check_out,omitempty"`
	PageNumber     int               `json:"page_number" validate:"gte=1"`
	PageSize       int               `json:"page_size" validate:"gte=1,lte=100"`
	SortBy         string            `json:"sort_by"`
}

// Normalize fills defaults for unset pagination and sort fields. It never
// rewrites explicitly provided values; those are rejected by Validate when
// they are out of range.
func (r *SearchRequest) Normalize() {
	if r.PageNumber == 0 {
		r.PageNumber = 1
	}
	if r.PageSize == 0 {
		r.PageSize = 20
	}
	if r.SortBy == "" {
		r.SortBy = SortPriceAsc
	}
}

// Validate runs the struct tag rules plus the invariants tags cannot express:
// a date range must set both bounds, with checkOut strictly after checkIn.
func (r *SearchRequest) Validate() error {
	if err := validator.Validate(r); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if !IsValidSort(r.SortBy) {
		return apperrors.InvalidInput("sort_by must be one of: price_asc, price_desc, rating, newest, popularity")
	}
	if r.MinPrice != nil && r.MaxPrice != nil && *r.MinPrice > *r.MaxPrice {
		return apperrors.InvalidInput("min_price must not exceed max_price")
	}
	if r.MinRating != nil && r.MaxRating != nil && *r.MinRating > *r.MaxRating {
		return apperrors.InvalidInput("min_rating must not exceed max_rating")
	}
	if (r.CheckIn == nil) != (r.CheckOut == nil) {
		return apperrors.InvalidInput("check_in and check_out must be provided together")
	}
	if r.CheckIn != nil && !r.CheckOut.After(*r.CheckIn) {
		return apperrors.InvalidInput("check_out must be after check_in")
	}
	return nil
}

// HasDateRange reports whether the request carries an availability date range.
func (r *SearchRequest) HasDateRange() bool {
	return r.CheckIn != nil && r.CheckOut != nil
}

// SearchResult holds one ordered page of property projections plus totals
// computed over the full candidate set.
type SearchResult struct {
	Properties []IndexedProperty `json:"properties"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
	TookMs     int64             `json:"took_ms"`
}
