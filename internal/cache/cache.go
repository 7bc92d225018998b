// Package cache memoizes computed search result pages in Redis. Entries are
// TTL-bounded and invalidated coarsely by city scope on index writes: a write
// touching a city drops every cached page that filtered on that city plus
// every city-less page. Pages may therefore be stale for up to the TTL after
// a write; that bounded staleness is an accepted tradeoff.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/pkg/slug"
)

const (
	entryPrefix = "search:cache:page:"
	scopePrefix = "search:cache:scope:"
	globalScope = scopePrefix + "global"
)

// Searcher is the search execution the layer wraps.
type Searcher interface {
	Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResult, error)
}

// Layer wraps a Searcher with a Redis-backed result page cache.
type Layer struct {
	rdb    *redis.Client
	inner  Searcher
	ttl    time.Duration
	logger *slog.Logger
}

// NewLayer creates a cache layer with the given TTL in front of inner.
func NewLayer(rdb *redis.Client, inner Searcher, ttl time.Duration, logger *slog.Logger) *Layer {
	return &Layer{
		rdb:    rdb,
		inner:  inner,
		ttl:    ttl,
		logger: logger,
	}
}

// Search returns a cached page when one exists, executing the wrapped
// searcher otherwise. Cache infrastructure failures degrade to uncached
// execution; they never fail the request on their own.
func (l *Layer) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResult, error) {
	req.Normalize()

	key, err := RequestKey(req)
	if err != nil {
		return l.inner.Search(ctx, req)
	}

	raw, err := l.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cached domain.SearchResult
		if uerr := json.Unmarshal(raw, &cached); uerr == nil {
			hitsTotal.Inc()
			return &cached, nil
		}
		// Corrupt entry: fall through and overwrite it.
	} else if !errors.Is(err, redis.Nil) {
		l.logger.WarnContext(ctx, "cache read failed, executing search",
			slog.String("error", err.Error()),
		)
	}
	missesTotal.Inc()

	result, err := l.inner.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	l.storePage(ctx, req, key, result)
	return result, nil
}

// InvalidateCity drops every cached page that filtered on the city, plus all
// city-less pages (their results may include properties of this city).
func (l *Layer) InvalidateCity(ctx context.Context, city string) {
	l.dropScope(ctx, cityScope(city))
	l.dropScope(ctx, globalScope)
}

// InvalidateAll drops every cached page. Used after a full rebuild.
func (l *Layer) InvalidateAll(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, entryPrefix+"*", 1000).Result()
		if err != nil {
			l.logger.WarnContext(ctx, "cache flush scan failed", slog.String("error", err.Error()))
			return
		}
		if len(keys) > 0 {
			if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
				l.logger.WarnContext(ctx, "cache flush delete failed", slog.String("error", err.Error()))
				return
			}
			invalidationsTotal.Add(float64(len(keys)))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	cursor = 0
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, scopePrefix+"*", 1000).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			_ = l.rdb.Del(ctx, keys...).Err()
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// storePage writes the page and registers it in its invalidation scope.
func (l *Layer) storePage(ctx context.Context, req *domain.SearchRequest, key string, result *domain.SearchResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}

	scope := globalScope
	if req.City != "" {
		scope = cityScope(req.City)
	}

	// Scope sets outlive their entries slightly; dropScope tolerates members
	// whose entries already expired.
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, l.ttl)
		pipe.SAdd(ctx, scope, key)
		pipe.Expire(ctx, scope, l.ttl*2)
		return nil
	})
	if err != nil {
		l.logger.WarnContext(ctx, "cache write failed", slog.String("error", err.Error()))
	}
}

// dropScope deletes every entry registered in the scope set, then the set.
func (l *Layer) dropScope(ctx context.Context, scope string) {
	keys, err := l.rdb.SMembers(ctx, scope).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "cache scope read failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(keys) == 0 {
		return
	}

	keys = append(keys, scope)
	if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
		l.logger.WarnContext(ctx, "cache scope delete failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		return
	}
	invalidationsTotal.Add(float64(len(keys) - 1))
}

// RequestKey derives the cache key from a normalized request. Marshaling is
// deterministic (encoding/json sorts map keys), so equal requests always hash
// to the same key.
func RequestKey(req *domain.SearchRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request for cache key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return entryPrefix + hex.EncodeToString(sum[:]), nil
}

func cityScope(city string) string {
	return scopePrefix + "city:" + slug.Generate(city)
}
