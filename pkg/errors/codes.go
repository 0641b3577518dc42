package errors

import "net/http"

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeAlreadyProcessed     Code = "ALREADY_PROCESSED"
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeLimitExceeded        Code = "LIMIT_EXCEEDED"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeRateLimited          Code = "RATE_LIMITED"
)

// Metadata drives how a code is rendered over HTTP and whether consumers
// should ask for redelivery.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// ShowMessage lets the error's own message reach the client in place of
	// PublicMessage.
	ShowMessage bool
}

func meta(status int, public string, opts ...func(*Metadata)) Metadata {
	m := Metadata{HTTPStatus: status, PublicMessage: public}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func retryable(m *Metadata)   { m.Retryable = true }
func withDetails(m *Metadata) { m.DetailsAllowed = true }
func shown(m *Metadata)       { m.ShowMessage = true }

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", shown, withDetails),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", shown),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", shown),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", shown),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", shown),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", shown, withDetails),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),

	CodeAlreadyProcessed: meta(http.StatusOK, "already processed", withDetails),
	// configuration problems never leak plan details to callers
	CodeConfigurationInvalid: meta(http.StatusInternalServerError, "request could not be completed"),
	CodeInsufficientFunds:    meta(http.StatusUnprocessableEntity, "insufficient funds", shown, withDetails),
	CodeLimitExceeded:        meta(http.StatusUnprocessableEntity, "limit exceeded", shown, withDetails),
	CodeInvalidState:         meta(http.StatusConflict, "invalid state transition", shown, withDetails),
	CodeRateLimited:          meta(http.StatusTooManyRequests, "too many requests", retryable),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}
