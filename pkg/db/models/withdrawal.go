package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/pkg/enums"
)

// PayoutWallet is a cash-out channel with its own amount bounds.
type PayoutWallet struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Provider       string    `gorm:"column:provider;not null" json:"provider"`
	Name           string    `gorm:"column:name;not null" json:"name"`
	Active         bool      `gorm:"column:active;not null;default:true" json:"active"`
	MinAmountCents int64     `gorm:"column:min_amount_cents;not null" json:"minAmountCents"`
	MaxAmountCents int64     `gorm:"column:max_amount_cents;not null" json:"maxAmountCents"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// PaymentRequest is a member's withdrawal request.
type PaymentRequest struct {
	ID                   uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID               uuid.UUID                  `gorm:"column:user_id;type:uuid;not null" json:"userId"`
	WalletID             uuid.UUID                  `gorm:"column:wallet_id;type:uuid;not null" json:"walletId"`
	AmountCents          int64                      `gorm:"column:amount_cents;not null" json:"amountCents"`
	Status               enums.PaymentRequestStatus `gorm:"column:status;type:payment_request_status_enum;not null" json:"status"`
	ProofURL             *string                    `gorm:"column:proof_url" json:"proofUrl,omitempty"`
	ProcessedBy          *uuid.UUID                 `gorm:"column:processed_by;type:uuid" json:"processedBy,omitempty"`
	RejectionReason      *string                    `gorm:"column:rejection_reason" json:"rejectionReason,omitempty"`
	HoldTransactionID    uuid.UUID                  `gorm:"column:hold_transaction_id;type:uuid;not null" json:"holdTransactionId"`
	ReleaseTransactionID *uuid.UUID                 `gorm:"column:release_transaction_id;type:uuid" json:"releaseTransactionId,omitempty"`
	ExpiresAt            time.Time                  `gorm:"column:expires_at;not null" json:"expiresAt"`
	CreatedAt            time.Time                  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt            time.Time                  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
