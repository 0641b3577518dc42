package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/netcomp-backend/internal/analytics/types"
	"github.com/angelmondragon/netcomp-backend/internal/analytics/writer"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
)

type rowBuilder func(envelope types.Envelope, payload any) (types.SettlementEventRow, error)

type rowHandler struct {
	writer Writer
	logg   *logger.Logger
	build  rowBuilder
}

func (h rowHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	row, err := h.build(envelope, payload)
	if err != nil {
		return err
	}
	encoded, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return err
	}
	row.EventID = envelope.EventID
	row.EventType = string(envelope.EventType)
	row.OccurredAt = envelope.OccurredAt
	row.Payload = encoded

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"member_id":    row.MemberID,
		"amount_cents": row.AmountCents,
	})
	if err := h.writer.Insert(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert settlement row", err)
		return err
	}
	return nil
}

func commissionRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.CommissionRecordedEvent)
	if !ok {
		return types.SettlementEventRow{}, invalidPayload(envelope)
	}
	return types.SettlementEventRow{
		MemberID:    event.RecipientID.String(),
		OrderID:     stringPtr(event.OrderID),
		BuyerID:     stringPtr(event.BuyerID.String()),
		Level:       int64Ptr(int64(event.Level)),
		Tier:        int64Ptr(int64(event.Tier)),
		PlanVersion: int64Ptr(int64(event.PlanVersion)),
		Rate:        stringPtr(event.Rate),
		AmountCents: event.AmountCents,
	}, nil
}

func walletTransactionRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.WalletTransactionRecordedEvent)
	if !ok {
		return types.SettlementEventRow{}, invalidPayload(envelope)
	}
	row := types.SettlementEventRow{
		MemberID:     event.UserID.String(),
		AmountCents:  event.DeltaCents,
		WalletReason: stringPtr(string(event.Reason)),
	}
	if event.Reference != nil {
		row.OrderID = stringPtr(*event.Reference)
	}
	return row, nil
}

func withdrawalRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.WithdrawalStatusChangedEvent)
	if !ok {
		return types.SettlementEventRow{}, invalidPayload(envelope)
	}
	return types.SettlementEventRow{
		MemberID:         event.UserID.String(),
		AmountCents:      event.AmountCents,
		WithdrawalStatus: stringPtr(string(event.Status)),
	}, nil
}

func tierRewardRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.TierRewardGrantedEvent)
	if !ok {
		return types.SettlementEventRow{}, invalidPayload(envelope)
	}
	return types.SettlementEventRow{
		MemberID:    event.MemberID.String(),
		Tier:        int64Ptr(int64(event.Tier)),
		PlanVersion: int64Ptr(int64(event.PlanVersion)),
		AmountCents: event.CreditCents,
	}, nil
}

func invalidPayload(envelope types.Envelope) error {
	return fmt.Errorf("invalid payload for %s", envelope.EventType)
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}
