package orderpaid

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/netcomp-backend/internal/commissions"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/registry"
	"github.com/angelmondragon/netcomp-backend/pkg/pubsub"
)

const consumerName = "order-paid-settlement"

type settler interface {
	SettleOrder(ctx context.Context, plan *compplan.Plan, order commissions.OrderPaid) (*commissions.Settlement, error)
}

// settledMarkers short-circuits redeliveries of orders already settled. The
// commission_settlements key stays authoritative, so a marker is written only
// after SettleOrder commits.
type settledMarkers interface {
	Seen(ctx context.Context, consumer, id string) (bool, error)
	MarkKey(ctx context.Context, consumer, id string) error
}

// Consumer settles commissions for order_paid messages from the orders
// subscription.
type Consumer struct {
	subscription pubsub.Subscriber
	settler      settler
	plans        compplan.Source
	manager      settledMarkers
	decoder      *registry.Decoder[payloads.OrderPaidEvent]
	logg         *logger.Logger
}

func NewConsumer(subscription pubsub.Subscriber, settler settler, plans compplan.Source, manager settledMarkers, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("orders subscription is required")
	}
	if settler == nil {
		return nil, errors.New("commission service is required")
	}
	if plans == nil {
		return nil, errors.New("plan source is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		settler:      settler,
		plans:        plans,
		manager:      manager,
		decoder:      registry.NewDecoder[payloads.OrderPaidEvent](enums.EventOrderPaid),
		logg:         logg,
	}, nil
}

// Run consumes until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return pubsub.Consume(ctx, c.subscription, c.process)
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) pubsub.Disposition {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})
	if eventType != "" && eventType != string(enums.EventOrderPaid) {
		c.logg.Info(logCtx, "event not handled by settlement consumer")
		return pubsub.Ack
	}

	envelope, event, err := c.decoder.Decode(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "invalid order_paid message", err)
		return pubsub.Ack
	}
	logCtx = c.logg.WithOrderID(logCtx, event.OrderID)
	logCtx = c.logg.WithField(logCtx, "event_id", envelope.EventID)
	if event.OrderID == "" {
		c.logg.Warn(logCtx, "order_paid without order id")
		return pubsub.Ack
	}

	seen, err := c.manager.Seen(logCtx, consumerName, event.OrderID)
	switch {
	case err != nil:
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "settled marker lookup failed, settling anyway")
	case seen:
		c.logg.Info(logCtx, "order already settled")
		return pubsub.Ack
	}

	if err := c.settle(logCtx, event); err != nil {
		if pkgerrors.IsRetryable(err) {
			c.logg.Error(logCtx, "settlement failed, will retry", err)
			return pubsub.Nack
		}
		c.logg.Error(logCtx, "settlement rejected", err)
		return pubsub.Ack
	}
	if err := c.manager.MarkKey(logCtx, consumerName, event.OrderID); err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "failed to record settled marker")
	}
	return pubsub.Ack
}

func (c *Consumer) settle(ctx context.Context, event *payloads.OrderPaidEvent) error {
	plan, err := c.plans.Current(ctx)
	if err != nil {
		return err
	}
	settlement, err := c.settler.SettleOrder(ctx, plan, commissions.OrderPaid{
		OrderID:         event.OrderID,
		BuyerID:         event.BuyerID,
		PaidAmountCents: event.PaidAmountCents,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed) {
			c.logg.Info(ctx, "order settled by an earlier delivery")
			return nil
		}
		return err
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"plan_version":      settlement.PlanVersion,
		"records":           len(settlement.Records),
		"distributed_cents": settlement.DistributedCents,
	}), "order settled")
	return nil
}
