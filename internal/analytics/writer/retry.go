package writer

import (
	"errors"
	"net/http"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	retryableHTTP = map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusRequestTimeout:      true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	retryableGRPC = map[codes.Code]bool{
		codes.Aborted:           true,
		codes.DeadlineExceeded:  true,
		codes.Internal:          true,
		codes.ResourceExhausted: true,
		codes.Unavailable:       true,
	}
	// row-level reasons reported inside PutMultiError
	retryableReasons = map[string]bool{
		"backendError":      true,
		"internalError":     true,
		"rateLimitExceeded": true,
		"timeout":           true,
	}
)

// retryable reports whether an insert failure is worth another attempt. A
// multi-row failure is retryable only when every row failed transiently;
// rows carry insert ids, so resending the whole batch does not duplicate the
// ones that landed.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var rows cbigquery.PutMultiError
	if errors.As(err, &rows) {
		if len(rows) == 0 {
			return false
		}
		for _, row := range rows {
			if !retryable(row.Errors) {
				return false
			}
		}
		return true
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		if len(multi) == 0 {
			return false
		}
		for _, inner := range multi {
			if !retryable(inner) {
				return false
			}
		}
		return true
	}

	var bqErr *cbigquery.Error
	if errors.As(err, &bqErr) {
		return retryableReasons[bqErr.Reason]
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}

	if st, ok := status.FromError(err); ok && st != nil {
		return retryableGRPC[st.Code()]
	}
	return false
}
