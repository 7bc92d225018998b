// Package query executes search requests against the index structures:
// candidate generation by set intersection, numeric range filtering over
// sorted sets, availability filtering, ranking, and pagination.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/internal/index"
	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
)

// availabilityConcurrency bounds the per-request fan-out of availability
// checks against the primary store.
const availabilityConcurrency = 8

// AvailabilityChecker decides whether a property can host a stay. Implemented
// by the availability processor.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, propertyID string, checkIn, checkOut time.Time, guests int) (bool, error)
}

// Engine answers search requests from the index structures. Engines never
// substitute an empty page for a store failure: connectivity errors propagate
// to the caller.
type Engine struct {
	rdb          *redis.Client
	availability AvailabilityChecker
	logger       *slog.Logger
}

// NewEngine creates a query engine over the given Redis client.
func NewEngine(rdb *redis.Client, availability AvailabilityChecker, logger *slog.Logger) *Engine {
	return &Engine{
		rdb:          rdb,
		availability: availability,
		logger:       logger,
	}
}

// Search validates the request, generates the candidate set, applies numeric,
// capacity, and availability filters, then fetches, ranks, and paginates the
// matching properties.
func (e *Engine) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResult, error) {
	start := time.Now()

	req.Normalize()
	if err := req.Validate(); err != nil {
		searchesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	candidates, err := e.candidateIDs(ctx, req)
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	candidates, err = e.applyNumericFilters(ctx, req, candidates)
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if req.GuestCount > 0 {
		candidates, err = e.applyCapacityFilter(ctx, req.GuestCount, candidates)
		if err != nil {
			searchesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	if req.HasDateRange() && len(candidates) > 0 {
		candidates, err = e.applyAvailabilityFilter(ctx, req, candidates)
		if err != nil {
			searchesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	totalCount := len(candidates)
	totalPages := (totalCount + req.PageSize - 1) / req.PageSize

	properties, err := e.fetchProperties(ctx, candidates)
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	SortProperties(properties, req.SortBy)
	page := Paginate(properties, req.PageNumber, req.PageSize)

	took := time.Since(start)
	searchesTotal.WithLabelValues("success").Inc()
	searchDuration.Observe(took.Seconds())

	e.logger.DebugContext(ctx, "search executed",
		slog.String("city", req.City),
		slog.Int("total", totalCount),
		slog.Int64("took_ms", took.Milliseconds()),
	)

	return &domain.SearchResult{
		Properties: page,
		TotalCount: totalCount,
		Page:       req.PageNumber,
		PageSize:   req.PageSize,
		TotalPages: totalPages,
		TookMs:     took.Milliseconds(),
	}, nil
}

// candidateIDs generates the categorical candidate set. With no categorical
// filter active the global set is the candidate set; otherwise the filter
// sets are intersected starting from the smallest to bound the work.
func (e *Engine) candidateIDs(ctx context.Context, req *domain.SearchRequest) ([]string, error) {
	keys := filterSetKeys(req)

	if len(keys) == 0 {
		ids, err := e.rdb.SMembers(ctx, index.AllPropertiesKey()).Result()
		if err != nil {
			return nil, apperrors.StoreUnavailable("index", fmt.Errorf("read global set: %w", err))
		}
		return ids, nil
	}

	if len(keys) > 1 {
		ordered, err := e.orderBySmallest(ctx, keys)
		if err != nil {
			return nil, err
		}
		keys = ordered
	}

	ids, err := e.rdb.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.StoreUnavailable("index", fmt.Errorf("intersect filter sets: %w", err))
	}
	return ids, nil
}

// orderBySmallest sorts set keys by ascending cardinality, fetched in one
// pipeline round trip.
func (e *Engine) orderBySmallest(ctx context.Context, keys []string) ([]string, error) {
	cmds := make([]*redis.IntCmd, len(keys))
	pipe := e.rdb.Pipeline()
	for i, key := range keys {
		cmds[i] = pipe.SCard(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.StoreUnavailable("index", fmt.Errorf("read set cardinalities: %w", err))
	}

	type sized struct {
		key  string
		card int64
	}
	sizes := make([]sized, len(keys))
	for i, cmd := range cmds {
		sizes[i] = sized{key: keys[i], card: cmd.Val()}
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].card < sizes[j].card })

	ordered := make([]string, len(sizes))
	for i, s := range sizes {
		ordered[i] = s.key
	}
	return ordered, nil
}

// applyNumericFilters narrows candidates by price and rating using sorted-set
// range queries, so the store returns already-bounded id lists.
func (e *Engine) applyNumericFilters(ctx context.Context, req *domain.SearchRequest, candidates []string) ([]string, error) {
	if req.MinPrice != nil || req.MaxPrice != nil {
		rng := scoreRange(float64PtrFromInt(req.MinPrice), float64PtrFromInt(req.MaxPrice))
		ids, err := e.rdb.ZRangeByScore(ctx, index.PriceRankKey(), rng).Result()
		if err != nil {
			return nil, apperrors.StoreUnavailable("index", fmt.Errorf("price range query: %w", err))
		}
		candidates = intersect(candidates, ids)
	}

	if req.MinRating != nil || req.MaxRating != nil {
		ids, err := e.rdb.ZRangeByScore(ctx, index.RatingRankKey(), scoreRange(req.MinRating, req.MaxRating)).Result()
		if err != nil {
			return nil, apperrors.StoreUnavailable("index", fmt.Errorf("rating range query: %w", err))
		}
		candidates = intersect(candidates, ids)
	}

	return candidates, nil
}

// applyCapacityFilter keeps candidates owning at least one unit with capacity
// for the requested guests. Capacity members encode the owner, so the range
// read maps straight back to property ids.
func (e *Engine) applyCapacityFilter(ctx context.Context, guests int, candidates []string) ([]string, error) {
	members, err := e.rdb.ZRangeByScore(ctx, index.UnitCapacityRankKey(), &redis.ZRangeBy{
		Min: strconv.Itoa(guests),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, apperrors.StoreUnavailable("index", fmt.Errorf("capacity range query: %w", err))
	}

	owners := make(map[string]struct{}, len(members))
	for _, m := range members {
		propertyID, _, ok := index.SplitCapacityMember(m)
		if !ok {
			e.logger.Warn("malformed capacity member", slog.String("member", m))
			continue
		}
		owners[propertyID] = struct{}{}
	}

	kept := candidates[:0:0]
	for _, id := range candidates {
		if _, ok := owners[id]; ok {
			kept = append(kept, id)
		}
	}
	return kept, nil
}

// applyAvailabilityFilter keeps candidates with at least one unit that can
// host the stay. Checks run with bounded concurrency; any store failure
// aborts the search rather than shrinking the result silently.
func (e *Engine) applyAvailabilityFilter(ctx context.Context, req *domain.SearchRequest, candidates []string) ([]string, error) {
	available := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(availabilityConcurrency)
	for i, id := range candidates {
		g.Go(func() error {
			ok, err := e.availability.IsAvailable(gctx, id, *req.CheckIn, *req.CheckOut, req.GuestCount)
			if err != nil {
				return fmt.Errorf("availability check for property %s: %w", id, err)
			}
			available[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := candidates[:0:0]
	for i, id := range candidates {
		if available[i] {
			kept = append(kept, id)
		}
	}
	return kept, nil
}

// fetchProperties loads all candidate snapshots in one batched read.
func (e *Engine) fetchProperties(ctx context.Context, ids []string) ([]domain.IndexedProperty, error) {
	if len(ids) == 0 {
		return []domain.IndexedProperty{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = index.PropertyKey(id)
	}

	values, err := e.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.StoreUnavailable("index", fmt.Errorf("batch read snapshots: %w", err))
	}

	properties := make([]domain.IndexedProperty, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between candidate generation and the batch read.
			e.logger.Debug("snapshot missing for candidate", slog.String("property_id", ids[i]))
			continue
		}
		var p domain.IndexedProperty
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			e.logger.Warn("corrupt property snapshot skipped",
				slog.String("property_id", ids[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		properties = append(properties, p)
	}
	return properties, nil
}

// filterSetKeys collects the membership set keys of every active categorical
// filter.
func filterSetKeys(req *domain.SearchRequest) []string {
	var keys []string
	for _, tok := range index.Tokenize(req.Query) {
		keys = append(keys, index.TextKey(tok))
	}
	if req.City != "" {
		keys = append(keys, index.CityKey(req.City))
	}
	if req.PropertyTypeID != "" {
		keys = append(keys, index.TypeKey(req.PropertyTypeID))
	}
	for _, a := range req.AmenityIDs {
		keys = append(keys, index.AmenityKey(a))
	}
	for name, value := range req.DynamicFields {
		keys = append(keys, index.FieldKey(name, value))
	}
	return keys
}

// scoreRange builds a ZRANGEBYSCORE bound from optional min/max values.
func scoreRange(min, max *float64) *redis.ZRangeBy {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if min != nil {
		rng.Min = strconv.FormatFloat(*min, 'f', -1, 64)
	}
	if max != nil {
		rng.Max = strconv.FormatFloat(*max, 'f', -1, 64)
	}
	return rng
}

func float64PtrFromInt(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

// intersect keeps the elements of a that are present in b, preserving a's
// order.
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	kept := a[:0:0]
	for _, id := range a {
		if _, ok := set[id]; ok {
			kept = append(kept, id)
		}
	}
	return kept
}

// SortProperties orders properties in place by the requested sort key. Ties
// fall back to id so pagination is stable across requests.
func SortProperties(properties []domain.IndexedProperty, sortBy string) {
	less := func(i, j int) bool { return properties[i].ID < properties[j].ID }

	switch sortBy {
	case domain.SortPriceAsc:
		less = func(i, j int) bool {
			if properties[i].MinPrice != properties[j].MinPrice {
				return properties[i].MinPrice < properties[j].MinPrice
			}
			return properties[i].ID < properties[j].ID
		}
	case domain.SortPriceDesc:
		less = func(i, j int) bool {
			if properties[i].MinPrice != properties[j].MinPrice {
				return properties[i].MinPrice > properties[j].MinPrice
			}
			return properties[i].ID < properties[j].ID
		}
	case domain.SortRating:
		less = func(i, j int) bool {
			if properties[i].AverageRating != properties[j].AverageRating {
				return properties[i].AverageRating > properties[j].AverageRating
			}
			return properties[i].ID < properties[j].ID
		}
	case domain.SortNewest:
		less = func(i, j int) bool {
			if !properties[i].CreatedAt.Equal(properties[j].CreatedAt) {
				return properties[i].CreatedAt.After(properties[j].CreatedAt)
			}
			return properties[i].ID < properties[j].ID
		}
	case domain.SortPopularity:
		less = func(i, j int) bool {
			if properties[i].BookingCount != properties[j].BookingCount {
				return properties[i].BookingCount > properties[j].BookingCount
			}
			return properties[i].ID < properties[j].ID
		}
	}

	sort.Slice(properties, less)
}

// Paginate slices one page out of the sorted property list.
func Paginate(properties []domain.IndexedProperty, pageNumber, pageSize int) []domain.IndexedProperty {
	offset := (pageNumber - 1) * pageSize
	if offset >= len(properties) {
		return []domain.IndexedProperty{}
	}
	end := offset + pageSize
	if end > len(properties) {
		end = len(properties)
	}
	return properties[offset:end]
}
