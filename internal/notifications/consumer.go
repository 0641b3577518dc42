package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/notify"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/registry"
	"github.com/angelmondragon/netcomp-backend/pkg/pubsub"
)

const withdrawalNotificationConsumer = "withdrawal-notifications"

type memberReader interface {
	Get(ctx context.Context, memberID uuid.UUID) (*models.Member, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
}

// Consumer turns withdrawal status changes into member notifications.
type Consumer struct {
	members      memberReader
	notifier     notify.Notifier
	subscription pubsub.Subscriber
	idempotency  idempotencyChecker
	decoder      *registry.Decoder[payloads.WithdrawalStatusChangedEvent]
	logg         *logger.Logger
}

// NewConsumer builds a withdrawal notification consumer.
func NewConsumer(members memberReader, notifier notify.Notifier, subscription pubsub.Subscriber, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if members == nil {
		return nil, fmt.Errorf("member reader required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		members:      members,
		notifier:     notifier,
		subscription: subscription,
		idempotency:  manager,
		decoder:      registry.NewDecoder[payloads.WithdrawalStatusChangedEvent](enums.EventWithdrawalStatusChanged),
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return pubsub.Consume(ctx, c.subscription, c.process)
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) pubsub.Disposition {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventWithdrawalStatusChanged) {
		return pubsub.Ack
	}

	envelope, payload, err := c.decoder.Decode(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode withdrawal event", err)
		return pubsub.Ack
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return pubsub.Ack
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":   envelope.EventID,
		"request_id": payload.RequestID.String(),
		"status":     payload.Status,
	})
	logCtx = c.logg.WithMemberID(logCtx, payload.UserID.String())

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, withdrawalNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return pubsub.Nack
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return pubsub.Ack
	}

	if err := c.notifyMember(ctx, *payload); err != nil {
		c.logg.Error(logCtx, "withdrawal notification failed", err)
		return pubsub.Ack
	}
	c.logg.Info(logCtx, "member notified of withdrawal status")
	return pubsub.Ack
}

var errNoEmail = errors.New("member has no email address")

func (c *Consumer) notifyMember(ctx context.Context, payload payloads.WithdrawalStatusChangedEvent) error {
	member, err := c.members.Get(ctx, payload.UserID)
	if err != nil {
		return err
	}
	if member.Email == nil || strings.TrimSpace(*member.Email) == "" {
		return errNoEmail
	}
	subject, body := render(member.DisplayName, payload)
	return c.notifier.Notify(ctx, notify.Message{To: *member.Email, Subject: subject, Body: body})
}

func render(name string, payload payloads.WithdrawalStatusChangedEvent) (string, string) {
	amount := decimal.New(payload.AmountCents, -2).StringFixed(2)
	provider := payload.WalletProvider
	if provider == "" {
		provider = "your payout wallet"
	}
	greeting := "Hello"
	if name = strings.TrimSpace(name); name != "" {
		greeting = "Hello " + name
	}

	var subject, line string
	switch payload.Status {
	case enums.PaymentRequestPending:
		subject = "Withdrawal request received"
		line = fmt.Sprintf("We received your withdrawal of %s to %s. Upload your payment proof to continue.", amount, provider)
	case enums.PaymentRequestProcessing:
		subject = "Withdrawal under review"
		line = fmt.Sprintf("Your withdrawal of %s to %s is being reviewed.", amount, provider)
	case enums.PaymentRequestCompleted:
		subject = "Withdrawal completed"
		line = fmt.Sprintf("Your withdrawal of %s to %s has been paid.", amount, provider)
	case enums.PaymentRequestRejected:
		subject = "Withdrawal rejected"
		line = fmt.Sprintf("Your withdrawal of %s to %s was rejected and the funds returned to your balance.", amount, provider)
		if payload.Reason != "" {
			line += " Reason: " + payload.Reason
		}
	case enums.PaymentRequestExpired:
		subject = "Withdrawal expired"
		line = fmt.Sprintf("Your withdrawal of %s to %s expired and the funds returned to your balance.", amount, provider)
	default:
		subject = "Withdrawal updated"
		line = fmt.Sprintf("Your withdrawal of %s is now %s.", amount, payload.Status)
	}
	return subject, greeting + ",\n\n" + line + "\n"
}
