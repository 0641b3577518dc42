package enums

import "slices"

// PaymentRequestStatus maps to the payment_request_status_enum enum in Postgres.
type PaymentRequestStatus string

const (
	PaymentRequestPending    PaymentRequestStatus = "pending"
	PaymentRequestProcessing PaymentRequestStatus = "processing"
	PaymentRequestCompleted  PaymentRequestStatus = "completed"
	PaymentRequestRejected   PaymentRequestStatus = "rejected"
	PaymentRequestExpired    PaymentRequestStatus = "expired"
)

var paymentRequestStatuses = []PaymentRequestStatus{
	PaymentRequestPending,
	PaymentRequestProcessing,
	PaymentRequestCompleted,
	PaymentRequestRejected,
	PaymentRequestExpired,
}

var paymentRequestTransitions = map[PaymentRequestStatus][]PaymentRequestStatus{
	PaymentRequestPending:    {PaymentRequestProcessing, PaymentRequestRejected, PaymentRequestExpired},
	PaymentRequestProcessing: {PaymentRequestCompleted, PaymentRequestRejected, PaymentRequestExpired},
}

func (s PaymentRequestStatus) String() string {
	return string(s)
}

func (s PaymentRequestStatus) IsValid() bool {
	return slices.Contains(paymentRequestStatuses, s)
}

// InFlight reports whether the request still holds funds awaiting resolution.
func (s PaymentRequestStatus) InFlight() bool {
	return s == PaymentRequestPending || s == PaymentRequestProcessing
}

// IsTerminal reports whether no further transition is possible.
func (s PaymentRequestStatus) IsTerminal() bool {
	return s == PaymentRequestCompleted || s == PaymentRequestRejected || s == PaymentRequestExpired
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s PaymentRequestStatus) CanTransitionTo(next PaymentRequestStatus) bool {
	return slices.Contains(paymentRequestTransitions[s], next)
}

func ParsePaymentRequestStatus(value string) (PaymentRequestStatus, error) {
	return parse("payment request status", value, paymentRequestStatuses)
}
