package models

import (
	"time"

	"github.com/google/uuid"
)

// PhaseOverride is an administrator-assigned tier kept apart from the computed one.
type PhaseOverride struct {
	MemberID uuid.UUID `gorm:"column:member_id;type:uuid;primaryKey" json:"memberId"`
	Tier     int       `gorm:"column:tier;not null" json:"tier"`
	Reason   string    `gorm:"column:reason;not null" json:"reason"`
	SetBy    uuid.UUID `gorm:"column:set_by;type:uuid;not null" json:"setBy"`
	SetAt    time.Time `gorm:"column:set_at;autoCreateTime" json:"setAt"`
}

// TierAward records the one-time rewards granted when a member reaches a tier.
type TierAward struct {
	ID                    uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MemberID              uuid.UUID  `gorm:"column:member_id;type:uuid;not null" json:"memberId"`
	Tier                  int        `gorm:"column:tier;not null" json:"tier"`
	PlanVersion           int        `gorm:"column:plan_version;not null" json:"planVersion"`
	CreditCents           int64      `gorm:"column:credit_cents;not null" json:"creditCents"`
	FreeProductValueCents int64      `gorm:"column:free_product_value_cents;not null" json:"freeProductValueCents"`
	WalletTransactionID   *uuid.UUID `gorm:"column:wallet_transaction_id;type:uuid" json:"walletTransactionId,omitempty"`
	AwardedBy             uuid.UUID  `gorm:"column:awarded_by;type:uuid;not null" json:"awardedBy"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
