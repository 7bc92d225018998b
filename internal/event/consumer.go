// Package event consumes property and unit change notifications from Kafka
// and feeds them to the indexer. One consumer runs per topic; all share the
// consumer group and an idempotency store that absorbs redeliveries.
package event

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/utafrali/StaySearchGo/pkg/kafka"
)

// Notifier receives decoded change notifications.
type Notifier interface {
	OnPropertyCreated(ctx context.Context, id string) error
	OnPropertyUpdated(ctx context.Context, id string) error
	OnPropertyDeleted(ctx context.Context, id string) error
	OnUnitCreated(ctx context.Context, id, propertyID string) error
	OnUnitUpdated(ctx context.Context, id, propertyID string) error
	OnUnitDeleted(ctx context.Context, id, propertyID string) error
}

// propertyPayload is the data section of property change events.
type propertyPayload struct {
	ID string `json:"id"`
}

// unitPayload is the data section of unit change events.
type unitPayload struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
}

// ConsumerGroup owns the per-topic consumers of the search indexer.
type ConsumerGroup struct {
	consumers []*kafka.Consumer
	logger    *slog.Logger
}

// Config holds what the consumer group needs to connect.
type Config struct {
	Brokers   []string
	GroupID   string
	EnableDLQ bool
}

// NewConsumerGroup builds one consumer per property/unit change topic. All
// handlers run through the shared idempotency store, so a redelivered event id
// is acknowledged without re-touching the index.
func NewConsumerGroup(cfg Config, notifier Notifier, idem kafka.IdempotencyStore, logger *slog.Logger) *ConsumerGroup {
	g := &ConsumerGroup{logger: logger}

	add := func(topic string, handler kafka.Handler) {
		g.consumers = append(g.consumers, kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:   cfg.Brokers,
			GroupID:   cfg.GroupID,
			Topic:     topic,
			EnableDLQ: cfg.EnableDLQ,
		}, kafka.IdempotentHandler(idem, handler, logger), logger))
	}

	add(kafka.Topic("property", "created"), propertyHandler(notifier.OnPropertyCreated, logger))
	add(kafka.Topic("property", "updated"), propertyHandler(notifier.OnPropertyUpdated, logger))
	add(kafka.Topic("property", "deleted"), propertyHandler(notifier.OnPropertyDeleted, logger))
	add(kafka.Topic("unit", "created"), unitHandler(notifier.OnUnitCreated, logger))
	add(kafka.Topic("unit", "updated"), unitHandler(notifier.OnUnitUpdated, logger))
	add(kafka.Topic("unit", "deleted"), unitHandler(notifier.OnUnitDeleted, logger))

	return g
}

// Start runs all consumers until the context is canceled or one fails.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range g.consumers {
		eg.Go(func() error {
			return c.Start(ctx)
		})
	}
	return eg.Wait()
}

// Close closes every consumer. Safe to call after Start returned.
func (g *ConsumerGroup) Close() {
	for _, c := range g.consumers {
		if err := c.Close(); err != nil {
			g.logger.Warn("closing consumer failed", slog.String("error", err.Error()))
		}
	}
}

// propertyHandler decodes a property change event and forwards its id. A
// payload with no usable id is logged and acknowledged: it can never become
// valid on retry.
func propertyHandler(apply func(ctx context.Context, id string) error, logger *slog.Logger) kafka.Handler {
	return func(ctx context.Context, event *kafka.Event) error {
		var payload propertyPayload
		if err := event.UnmarshalData(&payload); err != nil {
			logger.ErrorContext(ctx, "malformed property event payload, skipping",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
				slog.String("error", err.Error()),
			)
			return nil
		}

		id := payload.ID
		if id == "" {
			id = event.AggregateID
		}
		if id == "" {
			logger.ErrorContext(ctx, "property event without id, skipping",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		return apply(ctx, id)
	}
}

// unitHandler decodes a unit change event and forwards its id and owning
// property id.
func unitHandler(apply func(ctx context.Context, id, propertyID string) error, logger *slog.Logger) kafka.Handler {
	return func(ctx context.Context, event *kafka.Event) error {
		var payload unitPayload
		if err := event.UnmarshalData(&payload); err != nil {
			logger.ErrorContext(ctx, "malformed unit event payload, skipping",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
				slog.String("error", err.Error()),
			)
			return nil
		}

		id := payload.ID
		if id == "" {
			id = event.AggregateID
		}
		if id == "" {
			logger.ErrorContext(ctx, "unit event without id, skipping",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		return apply(ctx, id, payload.PropertyID)
	}
}
