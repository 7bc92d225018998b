package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/internal/store"
	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
)

// availabilityHorizon bounds how far ahead unit availability timelines are
// mirrored into the index. Date-range filtering reads the primary store, so
// the mirror only has to cover the bookable window.
const availabilityHorizon = 365 * 24 * time.Hour

// Writer applies create/update/delete notifications to the index structures.
// Every multi-key mutation for a single entity is applied inside one
// MULTI/EXEC transaction, so concurrent readers never observe a half-updated
// entity. Removals are always derived from the previously indexed snapshot,
// which keeps repeated deliveries of the same notification convergent.
//
// Writer itself does not serialize callers; the indexer service guarantees
// one in-flight operation per entity id.
type Writer struct {
	rdb     *redis.Client
	primary store.PrimaryStore
	logger  *slog.Logger
}

// NewWriter creates an index writer on top of the given Redis client and
// primary-store reader.
func NewWriter(rdb *redis.Client, primary store.PrimaryStore, logger *slog.Logger) *Writer {
	return &Writer{
		rdb:     rdb,
		primary: primary,
		logger:  logger,
	}
}

// Mutation summarizes an applied write: the cities whose cached search pages
// may now be stale, and whether the notification turned out to be a no-op.
type Mutation struct {
	Cities []string

	// Skipped is true when the write touched nothing because the entity had
	// vanished or was not searchable.
	Skipped bool
}

func (m *Mutation) addCity(city string) {
	if city == "" {
		return
	}
	for _, c := range m.Cities {
		if c == city {
			return
		}
	}
	m.Cities = append(m.Cities, city)
}

// CreateProperty loads the property from the primary store and indexes it
// together with its units. A property that no longer exists, or that is
// inactive or unapproved, produces no index writes: the skip is logged, not
// surfaced as an error.
func (w *Writer) CreateProperty(ctx context.Context, id string) (*Mutation, error) {
	timer := startOp("property", "create")
	defer timer.done()

	mut := &Mutation{}

	p, err := w.primary.GetProperty(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.logger.InfoContext(ctx, "property vanished before indexing, skipping",
				slog.String("property_id", id),
			)
			mut.Skipped = true
			return mut, nil
		}
		return nil, timer.fail(fmt.Errorf("load property %s: %w", id, err))
	}

	if !p.Searchable() {
		w.logger.InfoContext(ctx, "property not searchable, skipping index create",
			slog.String("property_id", id),
			slog.Bool("is_active", p.IsActive),
			slog.Bool("is_approved", p.IsApproved),
		)
		mut.Skipped = true
		return mut, nil
	}

	if err := w.writeProperty(ctx, p, mut); err != nil {
		return nil, timer.fail(err)
	}
	if err := w.writeOwnedUnits(ctx, p); err != nil {
		return nil, timer.fail(err)
	}

	w.logger.InfoContext(ctx, "property indexed",
		slog.String("property_id", id),
		slog.String("city", p.City),
	)
	return mut, nil
}

// UpdateProperty re-reads the property and reconciles the index with its new
// attribute values. Stale memberships are derived from the previously indexed
// snapshot and removed in the same transaction that adds the new ones. A
// transition into inactive or unapproved removes the property from every
// searchable structure.
func (w *Writer) UpdateProperty(ctx context.Context, id string) (*Mutation, error) {
	timer := startOp("property", "update")
	defer timer.done()

	mut := &Mutation{}

	p, err := w.primary.GetProperty(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.logger.InfoContext(ctx, "property vanished before re-indexing, skipping",
				slog.String("property_id", id),
			)
			mut.Skipped = true
			return mut, nil
		}
		return nil, timer.fail(fmt.Errorf("load property %s: %w", id, err))
	}

	if !p.Searchable() {
		if err := w.removeProperty(ctx, id, mut); err != nil {
			return nil, timer.fail(err)
		}
		w.logger.InfoContext(ctx, "property removed from index (no longer searchable)",
			slog.String("property_id", id),
		)
		return mut, nil
	}

	if err := w.writeProperty(ctx, p, mut); err != nil {
		return nil, timer.fail(err)
	}
	if err := w.writeOwnedUnits(ctx, p); err != nil {
		return nil, timer.fail(err)
	}

	w.logger.InfoContext(ctx, "property re-indexed", slog.String("property_id", id))
	return mut, nil
}

// DeleteProperty removes the property and its units from every structure they
// participate in. Memberships are discovered from the indexed snapshot; the
// snapshot itself is deleted in the same transaction, last.
func (w *Writer) DeleteProperty(ctx context.Context, id string) (*Mutation, error) {
	timer := startOp("property", "delete")
	defer timer.done()

	mut := &Mutation{}
	if err := w.removeProperty(ctx, id, mut); err != nil {
		return nil, timer.fail(err)
	}

	w.logger.InfoContext(ctx, "property deleted from index", slog.String("property_id", id))
	return mut, nil
}

// CreateUnit indexes a unit after loading it and its owning property from the
// primary store. A unit whose declared owner is absent is a fatal ordering
// violation: unit notifications must never precede their property's.
func (w *Writer) CreateUnit(ctx context.Context, id, propertyID string) (*Mutation, error) {
	timer := startOp("unit", "create")
	defer timer.done()

	mut := &Mutation{}

	u, err := w.primary.GetUnit(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.logger.InfoContext(ctx, "unit vanished before indexing, skipping",
				slog.String("unit_id", id),
			)
			mut.Skipped = true
			return mut, nil
		}
		return nil, timer.fail(fmt.Errorf("load unit %s: %w", id, err))
	}

	p, err := w.primary.GetProperty(ctx, u.PropertyID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, timer.fail(apperrors.OrderingViolation(id, propertyID))
		}
		return nil, timer.fail(fmt.Errorf("load owning property %s: %w", u.PropertyID, err))
	}

	if err := w.writeUnitWithAvailability(ctx, u, p.Searchable()); err != nil {
		return nil, timer.fail(err)
	}

	// Unit aggregates (min price, max capacity, units count) feed property
	// ranking scores, so the owner snapshot is refreshed in the same pass.
	if p.Searchable() {
		if err := w.writeProperty(ctx, p, mut); err != nil {
			return nil, timer.fail(err)
		}
	}

	w.logger.InfoContext(ctx, "unit indexed",
		slog.String("unit_id", id),
		slog.String("property_id", u.PropertyID),
	)
	return mut, nil
}

// UpdateUnit reconciles a unit's snapshot, capacity score, and timelines with
// its current primary-store row, then refreshes the owner's aggregates.
func (w *Writer) UpdateUnit(ctx context.Context, id, propertyID string) (*Mutation, error) {
	timer := startOp("unit", "update")
	defer timer.done()

	mut := &Mutation{}

	u, err := w.primary.GetUnit(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.logger.InfoContext(ctx, "unit vanished before re-indexing, skipping",
				slog.String("unit_id", id),
			)
			mut.Skipped = true
			return mut, nil
		}
		return nil, timer.fail(fmt.Errorf("load unit %s: %w", id, err))
	}

	p, err := w.primary.GetProperty(ctx, u.PropertyID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.logger.WarnContext(ctx, "owning property missing on unit update, skipping",
				slog.String("unit_id", id),
				slog.String("property_id", u.PropertyID),
			)
			mut.Skipped = true
			return mut, nil
		}
		return nil, timer.fail(fmt.Errorf("load owning property %s: %w", u.PropertyID, err))
	}

	if err := w.writeUnitWithAvailability(ctx, u, p.Searchable()); err != nil {
		return nil, timer.fail(err)
	}
	if p.Searchable() {
		if err := w.writeProperty(ctx, p, mut); err != nil {
			return nil, timer.fail(err)
		}
	}

	w.logger.InfoContext(ctx, "unit re-indexed", slog.String("unit_id", id))
	return mut, nil
}

// DeleteUnit removes the unit from every structure it participates in and
// refreshes the owner's aggregates.
func (w *Writer) DeleteUnit(ctx context.Context, id, propertyID string) (*Mutation, error) {
	timer := startOp("unit", "delete")
	defer timer.done()

	mut := &Mutation{}

	// Prefer the owner recorded in the indexed snapshot over the notification
	// argument; they only disagree when the notification is stale.
	owner := propertyID
	if old, found, err := w.readUnitSnapshot(ctx, id); err != nil {
		return nil, timer.fail(err)
	} else if found {
		owner = old.PropertyID
	}

	if err := w.removeUnit(ctx, owner, id); err != nil {
		return nil, timer.fail(err)
	}

	p, err := w.primary.GetProperty(ctx, owner)
	if err == nil && p.Searchable() {
		if err := w.writeProperty(ctx, p, mut); err != nil {
			return nil, timer.fail(err)
		}
	} else if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, timer.fail(fmt.Errorf("refresh owning property %s: %w", owner, err))
	}

	w.logger.InfoContext(ctx, "unit deleted from index",
		slog.String("unit_id", id),
		slog.String("property_id", owner),
	)
	return mut, nil
}

// FlushIndex deletes every index key. Only the rebuild path uses it.
func (w *Writer) FlushIndex(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := w.rdb.Scan(ctx, cursor, KeyPrefix+"*", 1000).Result()
		if err != nil {
			return apperrors.StoreUnavailable("index", fmt.Errorf("scan index keys: %w", err))
		}
		if len(keys) > 0 {
			if err := w.rdb.Del(ctx, keys...).Err(); err != nil {
				return apperrors.StoreUnavailable("index", fmt.Errorf("delete index keys: %w", err))
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// writeProperty writes the attribute snapshot, memberships, and ranking
// scores of a searchable property as one transaction. Memberships the
// previous snapshot had and the new one lacks are removed in the same
// transaction.
func (w *Writer) writeProperty(ctx context.Context, p *domain.IndexedProperty, mut *Mutation) error {
	old, hadOld, corrupt, err := w.readPropertySnapshot(ctx, p.ID)
	if err != nil {
		return err
	}
	if corrupt {
		// Stale memberships cannot be diffed out of a snapshot that does not
		// parse, so drop the id from every membership set before re-adding.
		if err := w.scrubMemberships(ctx, p.ID); err != nil {
			return err
		}
	}

	newKeys := PropertyMemberships(p)
	var stale []string
	if hadOld {
		stale = diffKeys(PropertyMemberships(old), newKeys)
		mut.addCity(old.City)
	}
	mut.addCity(p.City)

	snapshot, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal property snapshot %s: %w", p.ID, err)
	}

	_, err = w.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range stale {
			pipe.SRem(ctx, key, p.ID)
		}
		for _, key := range newKeys {
			pipe.SAdd(ctx, key, p.ID)
		}
		pipe.ZAdd(ctx, PriceRankKey(), redis.Z{Score: float64(p.MinPrice), Member: p.ID})
		pipe.ZAdd(ctx, RatingRankKey(), redis.Z{Score: p.AverageRating, Member: p.ID})
		pipe.ZAdd(ctx, CreatedRankKey(), redis.Z{Score: float64(p.CreatedAt.Unix()), Member: p.ID})
		pipe.ZAdd(ctx, PopularityRankKey(), redis.Z{Score: float64(p.BookingCount), Member: p.ID})
		pipe.Set(ctx, PropertyKey(p.ID), snapshot, 0)
		return nil
	})
	if err != nil {
		return apperrors.StoreUnavailable("index", fmt.Errorf("write property %s: %w", p.ID, err))
	}
	return nil
}

// removeProperty removes a property and all of its units from every index
// structure. Structures are discovered from the indexed snapshot; absent a
// snapshot the global set and ranking structures are still cleaned, which
// covers interrupted earlier writes. A corrupt snapshot is handled by
// scrubbing the id out of every membership set instead.
func (w *Writer) removeProperty(ctx context.Context, id string, mut *Mutation) error {
	old, hadOld, corrupt, err := w.readPropertySnapshot(ctx, id)
	if err != nil {
		return err
	}
	if corrupt {
		if err := w.scrubMemberships(ctx, id); err != nil {
			return err
		}
	}

	unitIDs, err := w.rdb.SMembers(ctx, PropertyUnitsKey(id)).Result()
	if err != nil {
		return apperrors.StoreUnavailable("index", fmt.Errorf("read units of property %s: %w", id, err))
	}
	for _, unitID := range unitIDs {
		if err := w.removeUnit(ctx, id, unitID); err != nil {
			return err
		}
	}

	memberships := []string{AllPropertiesKey()}
	if hadOld {
		memberships = PropertyMemberships(old)
		mut.addCity(old.City)
	}

	_, err = w.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range memberships {
			pipe.SRem(ctx, key, id)
		}
		for _, key := range RankingKeys() {
			pipe.ZRem(ctx, key, id)
		}
		pipe.Del(ctx, PropertyUnitsKey(id))
		// Snapshot goes last so no reader ever finds a snapshot whose
		// memberships are already gone.
		pipe.Del(ctx, PropertyKey(id))
		return nil
	})
	if err != nil {
		return apperrors.StoreUnavailable("index", fmt.Errorf("remove property %s: %w", id, err))
	}
	return nil
}

// writeOwnedUnits indexes every unit of a property, sharing one availability
// fetch across all of them.
func (w *Writer) writeOwnedUnits(ctx context.Context, p *domain.IndexedProperty) error {
	units, err := w.primary.ListUnitsByProperty(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list units of property %s: %w", p.ID, err)
	}

	now := time.Now().UTC()
	periods, err := w.primary.ListAvailability(ctx, p.ID, now, now.Add(availabilityHorizon))
	if err != nil {
		return fmt.Errorf("list availability of property %s: %w", p.ID, err)
	}
	byUnit := groupPeriodsByUnit(periods)

	for i := range units {
		if err := w.writeUnit(ctx, &units[i], p.Searchable(), byUnit[units[i].ID]); err != nil {
			return err
		}
	}
	return nil
}

// writeUnitWithAvailability indexes a single unit, fetching its availability
// window from the primary store.
func (w *Writer) writeUnitWithAvailability(ctx context.Context, u *domain.IndexedUnit, ownerSearchable bool) error {
	now := time.Now().UTC()
	periods, err := w.primary.ListAvailability(ctx, u.PropertyID, now, now.Add(availabilityHorizon))
	if err != nil {
		return fmt.Errorf("list availability of property %s: %w", u.PropertyID, err)
	}
	return w.writeUnit(ctx, u, ownerSearchable, groupPeriodsByUnit(periods)[u.ID])
}

// writeUnit writes a unit's snapshot, ownership membership, capacity score,
// and timelines as one transaction. The capacity entry exists only while the
// unit is active and its owner searchable; both timelines are rebuilt in
// place so removed periods cannot linger.
func (w *Writer) writeUnit(ctx context.Context, u *domain.IndexedUnit, ownerSearchable bool, periods []domain.AvailabilityPeriod) error {
	snapshot, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal unit snapshot %s: %w", u.ID, err)
	}

	member := CapacityMember(u.PropertyID, u.ID)

	_, err = w.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, PropertyUnitsKey(u.PropertyID), u.ID)

		if u.IsActive && ownerSearchable {
			pipe.ZAdd(ctx, UnitCapacityRankKey(), redis.Z{Score: float64(u.MaxCapacity), Member: member})
		} else {
			pipe.ZRem(ctx, UnitCapacityRankKey(), member)
		}

		pipe.Del(ctx, UnitPricingKey(u.ID))
		for _, pt := range u.PricingTimeline {
			entry, merr := json.Marshal(pt)
			if merr != nil {
				return fmt.Errorf("marshal price point of unit %s: %w", u.ID, merr)
			}
			pipe.ZAdd(ctx, UnitPricingKey(u.ID), redis.Z{Score: float64(pt.StartDate.Unix()), Member: entry})
		}

		pipe.Del(ctx, UnitAvailabilityKey(u.ID))
		for _, period := range periods {
			entry, merr := json.Marshal(period)
			if merr != nil {
				return fmt.Errorf("marshal availability period of unit %s: %w", u.ID, merr)
			}
			pipe.ZAdd(ctx, UnitAvailabilityKey(u.ID), redis.Z{Score: float64(period.StartDate.Unix()), Member: entry})
		}

		pipe.Set(ctx, UnitKey(u.ID), snapshot, 0)
		return nil
	})
	if err != nil {
		return apperrors.StoreUnavailable("index", fmt.Errorf("write unit %s: %w", u.ID, err))
	}
	return nil
}

// removeUnit removes a unit from every structure it participates in, snapshot
// last.
func (w *Writer) removeUnit(ctx context.Context, propertyID, unitID string) error {
	_, err := w.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, PropertyUnitsKey(propertyID), unitID)
		pipe.ZRem(ctx, UnitCapacityRankKey(), CapacityMember(propertyID, unitID))
		pipe.Del(ctx, UnitPricingKey(unitID))
		pipe.Del(ctx, UnitAvailabilityKey(unitID))
		pipe.Del(ctx, UnitKey(unitID))
		return nil
	})
	if err != nil {
		return apperrors.StoreUnavailable("index", fmt.Errorf("remove unit %s: %w", unitID, err))
	}
	return nil
}

// readPropertySnapshot loads the previously indexed property snapshot. A
// snapshot that exists but does not parse is reported corrupt, so callers can
// fall back to scrubbing memberships instead of deriving them from it.
func (w *Writer) readPropertySnapshot(ctx context.Context, id string) (p *domain.IndexedProperty, found, corrupt bool, err error) {
	raw, err := w.rdb.Get(ctx, PropertyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, apperrors.StoreUnavailable("index", fmt.Errorf("read property snapshot %s: %w", id, err))
	}

	var snap domain.IndexedProperty
	if err := json.Unmarshal(raw, &snap); err != nil {
		// A corrupt snapshot must not wedge the entity forever.
		w.logger.WarnContext(ctx, "corrupt property snapshot, replacing",
			slog.String("property_id", id),
			slog.String("error", err.Error()),
		)
		return nil, false, true, nil
	}
	return &snap, true, false, nil
}

// scrubMemberships removes the id from every membership set in the index.
// Only the corrupt-snapshot path pays this SCAN; regular writes derive the
// exact memberships from the snapshot.
func (w *Writer) scrubMemberships(ctx context.Context, id string) error {
	var cursor uint64
	for {
		keys, next, err := w.rdb.Scan(ctx, cursor, KeyPrefix+"idx:*", 500).Result()
		if err != nil {
			return apperrors.StoreUnavailable("index", fmt.Errorf("scan membership keys: %w", err))
		}
		if len(keys) > 0 {
			pipe := w.rdb.Pipeline()
			for _, key := range keys {
				pipe.SRem(ctx, key, id)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return apperrors.StoreUnavailable("index", fmt.Errorf("scrub memberships of %s: %w", id, err))
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// readUnitSnapshot loads the previously indexed unit snapshot, if any.
func (w *Writer) readUnitSnapshot(ctx context.Context, id string) (*domain.IndexedUnit, bool, error) {
	raw, err := w.rdb.Get(ctx, UnitKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.StoreUnavailable("index", fmt.Errorf("read unit snapshot %s: %w", id, err))
	}

	var u domain.IndexedUnit
	if err := json.Unmarshal(raw, &u); err != nil {
		w.logger.WarnContext(ctx, "corrupt unit snapshot, replacing",
			slog.String("unit_id", id),
			slog.String("error", err.Error()),
		)
		return nil, false, nil
	}
	return &u, true, nil
}

// diffKeys returns the keys present in old but not in current.
func diffKeys(old, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, k := range current {
		keep[k] = struct{}{}
	}
	var stale []string
	for _, k := range old {
		if _, ok := keep[k]; !ok {
			stale = append(stale, k)
		}
	}
	return stale
}

// groupPeriodsByUnit buckets availability periods by unit id.
func groupPeriodsByUnit(periods []domain.AvailabilityPeriod) map[string][]domain.AvailabilityPeriod {
	byUnit := make(map[string][]domain.AvailabilityPeriod)
	for _, p := range periods {
		byUnit[p.UnitID] = append(byUnit[p.UnitID], p)
	}
	return byUnit
}
