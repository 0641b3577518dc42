package models

import (
	"time"

	"github.com/google/uuid"
)

// Member is a node of the sponsor forest. SponsorID is assigned once at
// enrollment.
type Member struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SponsorID   *uuid.UUID `gorm:"column:sponsor_id;type:uuid" json:"sponsorId,omitempty"`
	DisplayName string     `gorm:"column:display_name;not null" json:"displayName"`
	Email       *string    `gorm:"column:email" json:"email,omitempty"`
	Active      bool       `gorm:"column:active;not null;default:false" json:"active"`
	EnrolledAt  time.Time  `gorm:"column:enrolled_at;autoCreateTime" json:"enrolledAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
