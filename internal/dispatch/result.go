package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/allaspectsdev/keygate/internal/upstream"
)

// ErrInvalidRequest marks a caller-input failure. Never retried; returned
// immediately regardless of remaining budget.
var ErrInvalidRequest = errors.New("dispatch: invalid request")

// DefaultRetryAfter is the wait hint attached to exhaustion errors.
const DefaultRetryAfter = 30 * time.Second

// Request is one logical completion request. It lives for exactly one
// Complete call and is never persisted.
type Request struct {
	RequestID string
	Messages  []upstream.Message
	// ModelOverride pins the request to one model, skipping tier escalation.
	ModelOverride string
	// Temperature/TopP/MaxTokens override the configured defaults when
	// non-nil / non-zero.
	Temperature *float64
	MaxTokens   int
}

// Result is a successful completion plus pool telemetry sampled at response
// time.
type Result struct {
	RequestID string          `json:"request_id"`
	Model     string          `json:"model"`
	Tier      int             `json:"tier"`
	Attempts  int             `json:"attempts"`
	Message   upstream.Message `json:"message"`
	Usage     upstream.Usage  `json:"usage"`

	// CredentialHint is the redacted prefix/suffix of the credential that
	// served the request. Never the full secret.
	CredentialHint string `json:"credential_hint"`

	BusyCredentials  int `json:"busy_credentials"`
	TotalCredentials int `json:"total_credentials"`
}

// ExhaustedError is the terminal failure when no credential is usable at any
// tier within the retry budget. It carries the same pool telemetry as a
// success plus a suggested wait.
type ExhaustedError struct {
	Attempts         int
	RetryAfter       time.Duration
	BusyCredentials  int
	TotalCredentials int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all credentials exhausted after %d attempts (%d/%d busy); retry after %s",
		e.Attempts, e.BusyCredentials, e.TotalCredentials, e.RetryAfter)
}
