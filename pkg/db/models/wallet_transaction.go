package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/pkg/enums"
)

// WalletTransaction is an append-only balance movement. A member's balance is
// the sum of their rows' DeltaCents.
type WalletTransaction struct {
	ID         uuid.UUID                     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     uuid.UUID                     `gorm:"column:user_id;type:uuid;not null" json:"userId"`
	DeltaCents int64                         `gorm:"column:delta_cents;not null" json:"deltaCents"`
	Reason     enums.WalletTransactionReason `gorm:"column:reason;type:wallet_transaction_reason_enum;not null" json:"reason"`
	Reference  *string                       `gorm:"column:reference" json:"reference,omitempty"`
	CreatedBy  uuid.UUID                     `gorm:"column:created_by;type:uuid;not null" json:"createdBy"`
	CreatedAt  time.Time                     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// WalletAccount is the per-member lock holder row. It carries no balance.
type WalletAccount struct {
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey" json:"userId"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
