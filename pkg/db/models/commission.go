package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionSettlement is the per-order idempotency row; OrderID is its primary key.
type CommissionSettlement struct {
	OrderID          string    `gorm:"column:order_id;primaryKey" json:"orderId"`
	BuyerID          uuid.UUID `gorm:"column:buyer_id;type:uuid;not null" json:"buyerId"`
	PaidAmountCents  int64     `gorm:"column:paid_amount_cents;not null" json:"paidAmountCents"`
	PlanVersion      int       `gorm:"column:plan_version;not null" json:"planVersion"`
	DistributedCents int64     `gorm:"column:distributed_cents;not null" json:"distributedCents"`
	RecordCount      int       `gorm:"column:record_count;not null" json:"recordCount"`
	SettledAt        time.Time `gorm:"column:settled_at;autoCreateTime" json:"settledAt"`
}

// CommissionRecord is immutable and unique on (order_id, recipient_id, level).
type CommissionRecord struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID             string          `gorm:"column:order_id;not null" json:"orderId"`
	BuyerID             uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null" json:"buyerId"`
	RecipientID         uuid.UUID       `gorm:"column:recipient_id;type:uuid;not null" json:"recipientId"`
	Level               int             `gorm:"column:level;not null" json:"level"`
	Tier                int             `gorm:"column:tier;not null" json:"tier"`
	Rate                decimal.Decimal `gorm:"column:rate;type:numeric(6,4);not null" json:"rate"`
	AmountCents         int64           `gorm:"column:amount_cents;not null" json:"amountCents"`
	PlanVersion         int             `gorm:"column:plan_version;not null" json:"planVersion"`
	WalletTransactionID uuid.UUID       `gorm:"column:wallet_transaction_id;type:uuid;not null" json:"walletTransactionId"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
