// Package http exposes the search service's HTTP surface: the search
// endpoint, the admin reindex trigger, health probes, and metrics.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/internal/rebuild"
	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
	"github.com/utafrali/StaySearchGo/pkg/httputil"
)

const dateLayout = "2006-01-02"

// dynamicFieldPrefix marks query parameters that filter on tenant-defined
// fields, e.g. field.view=sea.
const dynamicFieldPrefix = "field."

// Searcher executes search requests.
type Searcher interface {
	Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResult, error)
}

// Rebuilder runs full index rebuilds.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*rebuild.Summary, error)
	Running() bool
}

// CachePurger drops all cached search pages.
type CachePurger interface {
	InvalidateAll(ctx context.Context)
}

// SearchHandler serves the search and reindex endpoints.
type SearchHandler struct {
	searcher  Searcher
	rebuilder Rebuilder
	cache     CachePurger
	logger    *slog.Logger
}

// NewSearchHandler creates the handler. cache may be nil when no cache layer
// is mounted.
func NewSearchHandler(searcher Searcher, rebuilder Rebuilder, cache CachePurger, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		searcher:  searcher,
		rebuilder: rebuilder,
		cache:     cache,
		logger:    logger,
	}
}

// Search handles GET /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Reindex handles POST /api/v1/search/reindex. The rebuild runs in the
// background; the response only acknowledges the start. A second request
// while one is running gets 409.
func (h *SearchHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.rebuilder.Running() {
		httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
			Error: &httputil.ErrorResponse{
				Code:    "REBUILD_IN_PROGRESS",
				Message: "an index rebuild is already running",
			},
		})
		return
	}

	// Detached from the request context: closing the HTTP connection must not
	// abort a running rebuild.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		summary, err := h.rebuilder.Rebuild(ctx)
		if err != nil {
			if !errors.Is(err, rebuild.ErrRebuildInProgress) {
				h.logger.Error("index rebuild failed", slog.String("error", err.Error()))
			}
			return
		}
		if h.cache != nil {
			h.cache.InvalidateAll(ctx)
		}
		h.logger.Info("index rebuild completed",
			slog.Int("indexed", summary.Indexed),
			slog.Int("skipped", summary.Skipped),
		)
	}()

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{
		Data: map[string]string{"status": "started"},
	})
}

// parseSearchRequest decodes the search query parameters. Malformed values
// are rejected, never silently dropped.
func parseSearchRequest(r *http.Request) (*domain.SearchRequest, error) {
	q := r.URL.Query()

	req := &domain.SearchRequest{
		Query:          q.Get("q"),
		City:           q.Get("city"),
		PropertyTypeID: q.Get("property_type_id"),
		SortBy:         q.Get("sort_by"),
	}

	if raw := q.Get("amenity_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.AmenityIDs = append(req.AmenityIDs, id)
			}
		}
	}

	var err error
	if req.MinPrice, err = int64Param(q.Get("min_price"), "min_price"); err != nil {
		return nil, err
	}
	if req.MaxPrice, err = int64Param(q.Get("max_price"), "max_price"); err != nil {
		return nil, err
	}
	if req.MinRating, err = floatParam(q.Get("min_rating"), "min_rating"); err != nil {
		return nil, err
	}
	if req.MaxRating, err = floatParam(q.Get("max_rating"), "max_rating"); err != nil {
		return nil, err
	}
	if req.GuestCount, err = intParam(q.Get("guests"), "guests", 0); err != nil {
		return nil, err
	}
	if req.PageNumber, err = intParam(q.Get("page"), "page", 0); err != nil {
		return nil, err
	}
	if req.PageSize, err = intParam(q.Get("page_size"), "page_size", 0); err != nil {
		return nil, err
	}
	if req.CheckIn, err = dateParam(q.Get("check_in"), "check_in"); err != nil {
		return nil, err
	}
	if req.CheckOut, err = dateParam(q.Get("check_out"), "check_out"); err != nil {
		return nil, err
	}

	for key, values := range q {
		if !strings.HasPrefix(key, dynamicFieldPrefix) || len(values) == 0 {
			continue
		}
		field := strings.TrimPrefix(key, dynamicFieldPrefix)
		if field == "" || values[0] == "" {
			continue
		}
		if req.DynamicFields == nil {
			req.DynamicFields = make(map[string]string)
		}
		req.DynamicFields[field] = values[0]
	}

	return req, nil
}

func intParam(raw, name string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidInput(name + " must be an integer")
	}
	return v, nil
}

func int64Param(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be an integer amount in minor units")
	}
	return &v, nil
}

func floatParam(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be a number")
	}
	return &v, nil
}

func dateParam(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be a date in YYYY-MM-DD format")
	}
	return &t, nil
}
