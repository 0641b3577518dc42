package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CompensationPlan stores a versioned plan document. At most one row is active.
type CompensationPlan struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Version   int             `gorm:"column:version;not null;uniqueIndex"`
	Name      string          `gorm:"column:name;not null"`
	Document  json.RawMessage `gorm:"column:document;type:jsonb;not null"`
	Active    bool            `gorm:"column:active;not null;default:false"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
