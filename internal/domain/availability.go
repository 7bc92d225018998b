package domain

import (
	"time"
)

// AvailabilityStatus classifies a unit's availability period.
type AvailabilityStatus string

const (
	StatusAvailable   AvailabilityStatus = "available"
	StatusBooked      AvailabilityStatus = "booked"
	StatusBlocked     AvailabilityStatus = "blocked"
	StatusMaintenance AvailabilityStatus = "maintenance"
)

// AvailabilityPeriod is a half-open [StartDate, EndDate) span of a unit's
// calendar with a single status, as recorded in the primary store.
type AvailabilityPeriod struct {
	UnitID    string             `json:"unit_id"`
	StartDate time.Time          `json:"start_date"`
	EndDate   time.Time          `json:"end_date"`
	Status    AvailabilityStatus `json:"status"`
}

// Overlaps reports whether the period intersects the half-open range
// [from, to).
func (p AvailabilityPeriod) Overlaps(from, to time.Time) bool {
	return p.StartDate.Before(to) && p.EndDate.After(from)
}
