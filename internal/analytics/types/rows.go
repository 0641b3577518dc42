package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementEventRow is one row of the settlement_events table, written per
// domain event. Columns that do not apply to the event stay null.
type SettlementEventRow struct {
	EventID          string
	EventType        string
	OccurredAt       time.Time
	MemberID         string
	OrderID          *string
	BuyerID          *string
	Level            *int64
	Tier             *int64
	PlanVersion      *int64
	Rate             *string
	AmountCents      int64
	WalletReason     *string
	WithdrawalStatus *string
	Payload          cbigquery.NullJSON
}

// SettlementEventSchema is the settlement_events table layout, day-partitioned
// on occurred_at.
var SettlementEventSchema = cbigquery.Schema{
	{Name: "event_id", Type: cbigquery.StringFieldType, Required: true},
	{Name: "event_type", Type: cbigquery.StringFieldType, Required: true},
	{Name: "occurred_at", Type: cbigquery.TimestampFieldType, Required: true},
	{Name: "member_id", Type: cbigquery.StringFieldType, Required: true},
	{Name: "order_id", Type: cbigquery.StringFieldType},
	{Name: "buyer_id", Type: cbigquery.StringFieldType},
	{Name: "level", Type: cbigquery.IntegerFieldType},
	{Name: "tier", Type: cbigquery.IntegerFieldType},
	{Name: "plan_version", Type: cbigquery.IntegerFieldType},
	{Name: "rate", Type: cbigquery.NumericFieldType},
	{Name: "amount_cents", Type: cbigquery.IntegerFieldType, Required: true},
	{Name: "wallet_reason", Type: cbigquery.StringFieldType},
	{Name: "withdrawal_status", Type: cbigquery.StringFieldType},
	{Name: "payload", Type: cbigquery.JSONFieldType},
}

const SettlementEventPartitionField = "occurred_at"

// Save implements bigquery.ValueSaver. The event id doubles as the insert id
// so BigQuery drops redelivered events on its side as well.
func (r SettlementEventRow) Save() (map[string]cbigquery.Value, string, error) {
	row := map[string]cbigquery.Value{
		"event_id":          r.EventID,
		"event_type":        r.EventType,
		"occurred_at":       r.OccurredAt,
		"member_id":         r.MemberID,
		"order_id":          nullable(r.OrderID),
		"buyer_id":          nullable(r.BuyerID),
		"level":             nullable(r.Level),
		"tier":              nullable(r.Tier),
		"plan_version":      nullable(r.PlanVersion),
		"rate":              nullable(r.Rate),
		"amount_cents":      r.AmountCents,
		"wallet_reason":     nullable(r.WalletReason),
		"withdrawal_status": nullable(r.WithdrawalStatus),
		"payload":           nil,
	}
	if r.Payload.Valid {
		row["payload"] = r.Payload.JSONVal
	}
	return row, r.EventID, nil
}

func nullable[T any](v *T) cbigquery.Value {
	if v == nil {
		return nil
	}
	return *v
}
