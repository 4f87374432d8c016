package upstream

import "net/http"

// Class is the adapter's verdict on one upstream call. The dispatcher acts
// on the class alone; status codes and error strings are diagnostics.
type Class int

const (
	// ClassSuccess carries a decoded completion.
	ClassSuccess Class = iota
	// ClassInvalidRequest means the request itself is malformed. Terminal
	// for the logical request: no other credential or tier can fix it.
	ClassInvalidRequest
	// ClassAuthError means the credential was rejected. Terminal for the
	// credential, retryable for the request with a different one.
	ClassAuthError
	// ClassRateLimited means the credential hit its upstream rate limit or
	// quota.
	ClassRateLimited
	// ClassServerError covers upstream 5xx responses.
	ClassServerError
	// ClassMalformedResponse means a 2xx body that failed to decode.
	// Treated as a transient server-side fault.
	ClassMalformedResponse
	// ClassTransportError covers connection-level failures and timeouts.
	ClassTransportError
	// ClassUnknown is the catch-all for statuses outside the table.
	// Retryable so nothing is ever silently dropped.
	ClassUnknown
)

// String returns the class name for logs and metrics labels.
func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassInvalidRequest:
		return "invalid_request"
	case ClassAuthError:
		return "auth_error"
	case ClassRateLimited:
		return "rate_limited"
	case ClassServerError:
		return "server_error"
	case ClassMalformedResponse:
		return "malformed_response"
	case ClassTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether the dispatcher should rotate to another
// credential after this outcome.
func (c Class) Retryable() bool {
	switch c {
	case ClassAuthError, ClassRateLimited, ClassServerError,
		ClassMalformedResponse, ClassTransportError, ClassUnknown:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an upstream HTTP status code to an outcome class. The
// table is total: any status it does not name lands in ClassUnknown.
func ClassifyStatus(code int) Class {
	if code >= 200 && code < 300 {
		return ClassSuccess
	}

	switch code {
	case http.StatusBadRequest,
		http.StatusRequestEntityTooLarge,
		http.StatusUnprocessableEntity:
		return ClassInvalidRequest
	case http.StatusUnauthorized,
		http.StatusForbidden:
		return ClassAuthError
	case http.StatusPaymentRequired, // quota exhaustion on some vendors
		http.StatusTooManyRequests:
		return ClassRateLimited
	case http.StatusRequestTimeout:
		return ClassTransportError
	}

	if code >= 500 && code < 600 {
		return ClassServerError
	}
	return ClassUnknown
}
