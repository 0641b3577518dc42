package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/netcomp-backend/pkg/enums"
)

// Envelope is a domain event as delivered on the analytics subscription.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Version       int
	OccurredAt    time.Time
	Payload       json.RawMessage
}
