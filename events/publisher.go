package events

import (
	"context"
	"time"

	"github.com/decantapp/decant/server/hook"
	"go.uber.org/zap"
)

// Envelope is the wire shape of a relationship event on the bus.
type Envelope struct {
	Action     string    `json:"action"`
	ActorID    int64     `json:"actor_id"`
	OtherID    int64     `json:"other_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher pushes relationship changes to downstream consumers
// (notification senders, analytics). Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishRelationEvent(ctx context.Context, action string, ev hook.RelationEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured so
// the rest of the wiring stays identical.
type NopPublisher struct {
	logger *zap.Logger
}

func NewNopPublisher(logger *zap.Logger) *NopPublisher {
	return &NopPublisher{logger: logger}
}

func (p *NopPublisher) PublishRelationEvent(ctx context.Context, action string, ev hook.RelationEvent) error {
	p.logger.Debug("event dropped, no broker configured",
		zap.String("action", action),
		zap.Int64("actor_id", ev.ActorID),
		zap.Int64("other_id", ev.OtherID))
	return nil
}

func (p *NopPublisher) Close() error { return nil }
