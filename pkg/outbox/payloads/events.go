package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/pkg/enums"
)

// OrderPaidEvent is the inbound hand-off from the order subsystem. OrderID is
// the settlement idempotency key.
type OrderPaidEvent struct {
	OrderID         string    `json:"orderId"`
	BuyerID         uuid.UUID `json:"buyerId"`
	PaidAmountCents int64     `json:"paidAmountCents"`
}

// CommissionRecordedEvent reports one upline payout of a settled order.
type CommissionRecordedEvent struct {
	RecordID            uuid.UUID `json:"recordId"`
	OrderID             string    `json:"orderId"`
	BuyerID             uuid.UUID `json:"buyerId"`
	RecipientID         uuid.UUID `json:"recipientId"`
	Level               int       `json:"level"`
	Tier                int       `json:"tier"`
	Rate                string    `json:"rate"`
	AmountCents         int64     `json:"amountCents"`
	PlanVersion         int       `json:"planVersion"`
	WalletTransactionID uuid.UUID `json:"walletTransactionId"`
}

// WalletTransactionRecordedEvent feeds statement generation.
type WalletTransactionRecordedEvent struct {
	TransactionID uuid.UUID                     `json:"transactionId"`
	UserID        uuid.UUID                     `json:"userId"`
	DeltaCents    int64                         `json:"deltaCents"`
	Reason        enums.WalletTransactionReason `json:"reason"`
	Reference     *string                       `json:"reference,omitempty"`
	CreatedBy     uuid.UUID                     `json:"createdBy"`
	CreatedAt     time.Time                     `json:"createdAt"`
}

// WithdrawalStatusChangedEvent drives the best-effort member notification.
type WithdrawalStatusChangedEvent struct {
	RequestID      uuid.UUID                  `json:"requestId"`
	UserID         uuid.UUID                  `json:"userId"`
	Status         enums.PaymentRequestStatus `json:"status"`
	PreviousStatus enums.PaymentRequestStatus `json:"previousStatus,omitempty"`
	AmountCents    int64                      `json:"amountCents"`
	WalletProvider string                     `json:"walletProvider"`
	Reason         string                     `json:"reason,omitempty"`
}

// TierRewardGrantedEvent reports a one-time tier reward.
type TierRewardGrantedEvent struct {
	AwardID               uuid.UUID  `json:"awardId"`
	MemberID              uuid.UUID  `json:"memberId"`
	Tier                  int        `json:"tier"`
	PlanVersion           int        `json:"planVersion"`
	CreditCents           int64      `json:"creditCents"`
	FreeProductValueCents int64      `json:"freeProductValueCents"`
	WalletTransactionID   *uuid.UUID `json:"walletTransactionId,omitempty"`
}
