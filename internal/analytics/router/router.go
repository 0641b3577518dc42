package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/netcomp-backend/internal/analytics/types"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by the handlers.
type Writer interface {
	Insert(ctx context.Context, row types.SettlementEventRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches envelopes to the handler registered for their event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires the default handlers and allows overrides for specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventCommissionRecorded: {
			factory: func() any { return &payloads.CommissionRecordedEvent{} },
			handler: rowHandler{writer: writer, logg: logg, build: commissionRow},
		},
		enums.EventWalletTransactionRecorded: {
			factory: func() any { return &payloads.WalletTransactionRecordedEvent{} },
			handler: rowHandler{writer: writer, logg: logg, build: walletTransactionRow},
		},
		enums.EventWithdrawalStatusChanged: {
			factory: func() any { return &payloads.WithdrawalStatusChangedEvent{} },
			handler: rowHandler{writer: writer, logg: logg, build: withdrawalRow},
		},
		enums.EventTierRewardGranted: {
			factory: func() any { return &payloads.TierRewardGrantedEvent{} },
			handler: rowHandler{writer: writer, logg: logg, build: tierRewardRow},
		},
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	return &Router{handlers: entries, logg: logg}, nil
}

// Handle decodes the payload and dispatches it to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := entry.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return entry.handler.Handle(ctx, envelope, payload)
}
