// Package indexer applies change notifications to the index. It serializes
// operations per entity id, retries transient store failures with exponential
// backoff, and trips a circuit breaker during sustained index outages so
// notification redelivery takes over instead of hammering a dead store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/StaySearchGo/internal/index"
	apperrors "github.com/utafrali/StaySearchGo/pkg/errors"
)

// maxWriteRetries bounds in-process retries of a failed index write. Beyond
// this the error surfaces to the consumer, whose own retry and DLQ machinery
// takes over.
const maxWriteRetries = 4

// lockStripes is the number of mutexes entity ids are hashed onto. Two
// notifications for the same id always share a stripe, so they never
// interleave their read-diff-write cycles. Unit notifications hold the owning
// property's stripe as well, because the same write refreshes the owner's
// snapshot and memberships.
const lockStripes = 64

// IndexWriter is the slice of the index writer the indexer drives.
type IndexWriter interface {
	CreateProperty(ctx context.Context, id string) (*index.Mutation, error)
	UpdateProperty(ctx context.Context, id string) (*index.Mutation, error)
	DeleteProperty(ctx context.Context, id string) (*index.Mutation, error)
	CreateUnit(ctx context.Context, id, propertyID string) (*index.Mutation, error)
	UpdateUnit(ctx context.Context, id, propertyID string) (*index.Mutation, error)
	DeleteUnit(ctx context.Context, id, propertyID string) (*index.Mutation, error)
}

// CacheInvalidator drops cached search pages affected by an index write.
type CacheInvalidator interface {
	InvalidateCity(ctx context.Context, city string)
}

// Service turns change notifications into serialized, retried index writes.
type Service struct {
	writer  IndexWriter
	cache   CacheInvalidator
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[*index.Mutation]
	locks   [lockStripes]sync.Mutex
}

// NewService creates an indexer service around the given writer. cache may be
// nil when no cache layer is mounted.
func NewService(writer IndexWriter, cache CacheInvalidator, logger *slog.Logger) *Service {
	s := &Service{
		writer: writer,
		cache:  cache,
		logger: logger,
	}

	s.breaker = gobreaker.NewCircuitBreaker[*index.Mutation](gobreaker.Settings{
		Name:        "index-writes",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("index write breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return s
}

// OnPropertyCreated indexes a newly created property.
func (s *Service) OnPropertyCreated(ctx context.Context, id string) error {
	return s.apply(ctx, []string{id}, func(ctx context.Context) (*index.Mutation, error) {
		return s.writer.CreateProperty(ctx, id)
	})
}

// OnPropertyUpdated re-indexes an updated property.
func (s *Service) OnPropertyUpdated(ctx context.Context, id string) error {
	return s.apply(ctx, []string{id}, func(ctx context.Context) (*index.Mutation, error) {
		return s.writer.UpdateProperty(ctx, id)
	})
}

// OnPropertyDeleted removes a deleted property from the index.
func (s *Service) OnPropertyDeleted(ctx context.Context, id string) error {
	return s.apply(ctx, []string{id}, func(ctx context.Context) (*index.Mutation, error) {
		return s.writer.DeleteProperty(ctx, id)
	})
}

// OnUnitCreated indexes a newly created unit.
func (s *Service) OnUnitCreated(ctx context.Context, id, propertyID string) error {
	return s.apply(ctx, []string{id, propertyID}, func(ctx context.Context) (*index.Mutation, error) {
		return s.writer.CreateUnit(ctx, id, propertyID)
	})
}

// OnUnitUpdated re-indexes an updated unit.
func (s *Service) OnUnitUpdated(ctx context.Context, id, propertyID string) error {
	return s.apply(ctx, []string{id, propertyID}, func(ctx context.Context) (*index.Mutation, error) {
		return s.writer.UpdateUnit(ctx, id, propertyID)
	})
}

// OnUnitDeleted removes a deleted unit from the index.
func (s *Service) OnUnitDeleted(ctx context.Context, id, propertyID string) error {
	return s.apply(ctx, []string{id, propertyID}, func(ctx context.Context) (*index.Mutation, error) {
		return s.writer.DeleteUnit(ctx, id, propertyID)
	})
}

// apply runs one index write with the lock stripe of every involved entity
// held, retrying transient store failures and feeding the resulting mutation
// to the cache layer. Unit operations name both the unit and its owning
// property, so a concurrent property notification cannot interleave with the
// owner refresh the unit write performs.
func (s *Service) apply(ctx context.Context, entityIDs []string, op func(ctx context.Context) (*index.Mutation, error)) error {
	stripes := stripeSet(entityIDs)
	for _, i := range stripes {
		s.locks[i].Lock()
	}
	defer func() {
		for j := len(stripes) - 1; j >= 0; j-- {
			s.locks[stripes[j]].Unlock()
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	mut, err := backoff.Retry(ctx, func() (*index.Mutation, error) {
		mut, err := s.breaker.Execute(func() (*index.Mutation, error) {
			return op(ctx)
		})
		if err != nil {
			if retryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return mut, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxWriteRetries))
	if err != nil {
		return fmt.Errorf("apply index write for %s: %w", entityIDs[0], err)
	}

	if s.cache != nil && mut != nil {
		for _, city := range mut.Cities {
			s.cache.InvalidateCity(ctx, city)
		}
	}
	return nil
}

// retryable reports whether an index write failure is worth retrying
// in-process. Only store outages are; semantic failures never heal on retry.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return errors.Is(err, apperrors.ErrStoreUnavailable)
}

func stripe(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32() % lockStripes
}

// stripeSet maps ids onto their distinct lock stripes, ascending. The fixed
// acquisition order keeps concurrent multi-stripe writers deadlock free.
func stripeSet(ids []string) []uint32 {
	stripes := make([]uint32, 0, len(ids))
	for _, id := range ids {
		st := stripe(id)
		dup := false
		for _, existing := range stripes {
			if existing == st {
				dup = true
				break
			}
		}
		if !dup {
			stripes = append(stripes, st)
		}
	}
	sort.Slice(stripes, func(i, j int) bool { return stripes[i] < stripes[j] })
	return stripes
}
