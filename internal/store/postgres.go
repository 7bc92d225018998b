package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/pkg/database"
	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
)

// PostgresStore implements PrimaryStore against the booking platform's
// PostgreSQL schema.
type PostgresStore struct {
	pool database.DBTX
}

// NewPostgresStore creates a new PostgreSQL-backed primary store reader.
func NewPostgresStore(pool database.DBTX) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const propertyQuery = `
	SELECT p.id, p.name, p.city, p.property_type_id, p.star_rating,
	       p.average_rating, p.booking_count, p.latitude, p.longitude,
	       p.is_active, p.is_approved, p.created_at, p.dynamic_fields,
	       COALESCE((SELECT MIN(u.base_price) FROM units u WHERE u.property_id = p.id AND u.is_active), 0) AS min_price,
	       COALESCE((SELECT MAX(u.currency) FROM units u WHERE u.property_id = p.id AND u.is_active), 'USD') AS currency,
	       COALESCE((SELECT MAX(u.max_capacity) FROM units u WHERE u.property_id = p.id AND u.is_active), 0) AS max_capacity,
	       (SELECT COUNT(*) FROM units u WHERE u.property_id = p.id AND u.is_active) AS units_count,
	       COALESCE((SELECT array_agg(pa.amenity_id ORDER BY pa.amenity_id) FROM property_amenities pa WHERE pa.property_id = p.id), '{}') AS amenity_ids
	FROM properties p
	WHERE p.id = $1`

// GetProperty loads a property projection by id.
func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*domain.IndexedProperty, error) {
	var (
		p             domain.IndexedProperty
		dynamicFields []byte
	)

	err := s.pool.QueryRow(ctx, propertyQuery, id).Scan(
		&p.ID,
		&p.Name,
		&p.City,
		&p.PropertyTypeID,
		&p.StarRating,
		&p.AverageRating,
		&p.BookingCount,
		&p.Latitude,
		&p.Longitude,
		&p.IsActive,
		&p.IsApproved,
		&p.CreatedAt,
		&dynamicFields,
		&p.MinPrice,
		&p.Currency,
		&p.MaxCapacity,
		&p.UnitsCount,
		&p.AmenityIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("property", id)
		}
		if database.IsConnectionError(err) {
			return nil, apperrors.StoreUnavailable("primary", err)
		}
		return nil, fmt.Errorf("query property %s: %w", id, err)
	}

	if len(dynamicFields) > 0 {
		if err := json.Unmarshal(dynamicFields, &p.DynamicFields); err != nil {
			return nil, apperrors.PartialData("property", id, "malformed dynamic_fields")
		}
	}
	if p.AmenityIDs == nil {
		p.AmenityIDs = []string{}
	}

	return &p, nil
}

const unitColumns = `id, property_id, unit_type_id, base_price, currency,
	       max_capacity, adults_capacity, children_capacity, is_active`

// GetUnit loads a unit projection by id, including its pricing timeline.
func (s *PostgresStore) GetUnit(ctx context.Context, id string) (*domain.IndexedUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE id = $1`

	var u domain.IndexedUnit
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.PropertyID,
		&u.UnitTypeID,
		&u.BasePrice,
		&u.Currency,
		&u.MaxCapacity,
		&u.AdultsCapacity,
		&u.ChildrenCapacity,
		&u.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("unit", id)
		}
		if database.IsConnectionError(err) {
			return nil, apperrors.StoreUnavailable("primary", err)
		}
		return nil, fmt.Errorf("query unit %s: %w", id, err)
	}

	timeline, err := s.listPricing(ctx, id)
	if err != nil {
		return nil, err
	}
	u.PricingTimeline = timeline

	return &u, nil
}

// ListUnitsByProperty returns all units owned by the given property.
func (s *PostgresStore) ListUnitsByProperty(ctx context.Context, propertyID string) ([]domain.IndexedUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE property_id = $1 ORDER BY id`

	rows, err := s.pool.Query(ctx, query, propertyID)
	if err != nil {
		if database.IsConnectionError(err) {
			return nil, apperrors.StoreUnavailable("primary", err)
		}
		return nil, fmt.Errorf("query units of property %s: %w", propertyID, err)
	}
	defer rows.Close()

	var units []domain.IndexedUnit
	for rows.Next() {
		var u domain.IndexedUnit
		if err := rows.Scan(
			&u.ID,
			&u.PropertyID,
			&u.UnitTypeID,
			&u.BasePrice,
			&u.Currency,
			&u.MaxCapacity,
			&u.AdultsCapacity,
			&u.ChildrenCapacity,
			&u.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan unit row: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit rows: %w", err)
	}

	return units, nil
}

// ListPropertyIDs returns up to limit property ids after afterID in ascending
// order, for chunked rebuild streaming.
func (s *PostgresStore) ListPropertyIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	query := `SELECT id FROM properties WHERE id > $1 ORDER BY id LIMIT $2`

	rows, err := s.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		if database.IsConnectionError(err) {
			return nil, apperrors.StoreUnavailable("primary", err)
		}
		return nil, fmt.Errorf("query property ids after %q: %w", afterID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan property id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate property ids: %w", err)
	}

	return ids, nil
}

// ListAvailability returns availability periods of the property's units that
// intersect [from, to).
func (s *PostgresStore) ListAvailability(ctx context.Context, propertyID string, from, to time.Time) ([]domain.AvailabilityPeriod, error) {
	query := `
		SELECT a.unit_id, a.start_date, a.end_date, a.status
		FROM unit_availability a
		JOIN units u ON u.id = a.unit_id
		WHERE u.property_id = $1 AND a.start_date < $3 AND a.end_date > $2
		ORDER BY a.unit_id, a.start_date`

	rows, err := s.pool.Query(ctx, query, propertyID, from, to)
	if err != nil {
		if database.IsConnectionError(err) {
			return nil, apperrors.StoreUnavailable("primary", err)
		}
		return nil, fmt.Errorf("query availability of property %s: %w", propertyID, err)
	}
	defer rows.Close()

	var periods []domain.AvailabilityPeriod
	for rows.Next() {
		var p domain.AvailabilityPeriod
		if err := rows.Scan(&p.UnitID, &p.StartDate, &p.EndDate, &p.Status); err != nil {
			return nil, fmt.Errorf("scan availability row: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability rows: %w", err)
	}

	return periods, nil
}

// listPricing loads a unit's date-scoped price overrides sorted by start date.
func (s *PostgresStore) listPricing(ctx context.Context, unitID string) ([]domain.PricePoint, error) {
	query := `
		SELECT start_date, end_date, price
		FROM unit_pricing
		WHERE unit_id = $1
		ORDER BY start_date`

	rows, err := s.pool.Query(ctx, query, unitID)
	if err != nil {
		if database.IsConnectionError(err) {
			return nil, apperrors.StoreUnavailable("primary", err)
		}
		return nil, fmt.Errorf("query pricing of unit %s: %w", unitID, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.StartDate, &p.EndDate, &p.Price); err != nil {
			return nil, fmt.Errorf("scan pricing row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pricing rows: %w", err)
	}

	return points, nil
}
