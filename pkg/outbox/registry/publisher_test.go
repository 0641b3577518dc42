package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	recipient := uuid.New()
	payloadBytes := mustMarshal(t, payloads.CommissionRecordedEvent{
		RecordID:    uuid.New(),
		OrderID:     "ord-42",
		RecipientID: recipient,
		Level:       1,
		Rate:        "0.1",
		AmountCents: 1000,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventCommissionRecorded,
		AggregateType: enums.AggregateCommissionRecord,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "domain-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.CommissionRecordedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.RecipientID != recipient || payload.AmountCents != 1000 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryResolveInboundEventIsNotPublishable(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateMember,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"orderId":"x"}`)),
	}

	_, err := reg.Resolve(event)
	if !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventWithdrawalStatusChanged,
		AggregateType: enums.AggregateWalletTransaction,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"status":"pending"}`)),
	}

	if _, err := reg.Resolve(event); !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable aggregate mismatch, got %v", err)
	}
}

func TestEventRegistryResolveMissingPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventTierRewardGranted,
		AggregateType: enums.AggregateMember,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte("null")),
	}

	if _, err := reg.Resolve(event); err == nil {
		t.Fatal("expected missing payload error")
	}
}

func TestNewEventRegistryRequiresDomainTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected missing topic error")
	}
	reg := newTestEventRegistry(t)
	if topics := reg.Topics(); len(topics) != 1 || topics[0] != "domain-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestIsNonRetryableThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", NewNonRetryableError(errors.New("bad payload")))
	if !IsNonRetryable(wrapped) {
		t.Fatal("expected wrapped non-retryable to be detected")
	}
	if IsNonRetryable(errors.New("timeout")) {
		t.Fatal("plain errors are retryable")
	}
	if NewNonRetryableError(nil).Error() == "" {
		t.Fatal("expected fallback message")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "domain-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, data []byte) []byte {
	t.Helper()
	return mustMarshal(t, outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}
