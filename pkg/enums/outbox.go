package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateCommissionRecord  OutboxAggregateType = "commission_record"
	AggregateWalletTransaction OutboxAggregateType = "wallet_transaction"
	AggregatePaymentRequest    OutboxAggregateType = "payment_request"
	AggregateMember            OutboxAggregateType = "member"
)

var aggregateTypes = []OutboxAggregateType{
	AggregateCommissionRecord,
	AggregateWalletTransaction,
	AggregatePaymentRequest,
	AggregateMember,
}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

// OutboxEventType maps to the event_type enum in Postgres. Each value has a
// topic and payload type in the outbox registry.
type OutboxEventType string

const (
	EventOrderPaid                 OutboxEventType = "order_paid"
	EventCommissionRecorded        OutboxEventType = "commission_recorded"
	EventWalletTransactionRecorded OutboxEventType = "wallet_transaction_recorded"
	EventWithdrawalStatusChanged   OutboxEventType = "withdrawal_status_changed"
	EventTierRewardGranted         OutboxEventType = "tier_reward_granted"
)

var eventTypes = []OutboxEventType{
	EventOrderPaid,
	EventCommissionRecorded,
	EventWalletTransactionRecorded,
	EventWithdrawalStatusChanged,
	EventTierRewardGranted,
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(eventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}

// OutboxDLQErrorReason records why a row left the outbox for the DLQ table.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
