package worker

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/internal/analytics/router"
	"github.com/angelmondragon/netcomp-backend/internal/analytics/types"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/pubsub"
)

const analyticsConsumerName = "settlement-analytics"

// Handler turns one envelope into a warehouse row.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer, id string) error
}

// Service copies domain events from the analytics subscription into BigQuery.
// Each event id is claimed before the insert and released again if the insert
// fails, so a redelivery gets a second chance.
type Service struct {
	subscription pubsub.Subscriber
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

func NewService(subscription pubsub.Subscriber, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case manager == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: subscription,
		handler:      handler,
		manager:      manager,
		logg:         logg,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	return pubsub.Consume(ctx, s.subscription, s.process)
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) pubsub.Disposition {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := decodeEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping undecodable analytics message")
		return pubsub.Ack
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
	})

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(ctx, "dropping analytics message with malformed event id")
		return pubsub.Ack
	}

	seen, err := s.manager.CheckAndMarkProcessed(ctx, analyticsConsumerName, eventID)
	switch {
	case err != nil:
		s.logg.Error(ctx, "idempotency check failed", err)
		return pubsub.Nack
	case seen:
		s.logg.Debug(ctx, "analytics event already recorded")
		return pubsub.Ack
	}

	err = s.handler.Handle(ctx, envelope)
	switch {
	case err == nil:
		s.logg.Info(ctx, "analytics event recorded")
		return pubsub.Ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Debug(ctx, "event type not tracked by analytics")
		return pubsub.Ack
	}

	s.logg.Error(ctx, "analytics insert failed", err)
	if err := s.manager.Delete(ctx, analyticsConsumerName, eventID.String()); err != nil {
		s.logg.Error(ctx, "failed to release analytics claim", err)
	}
	return pubsub.Nack
}
