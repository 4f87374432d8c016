package pool

import "time"

// Credential is the pool-internal state for one upstream API secret. It is a
// passive holder: every mutation goes through Pool methods so the pool's
// mutex covers all state transitions.
type Credential struct {
	secret string
	index  int

	available  bool
	inFlight   bool
	lastUsedAt time.Time
	errorCount int
}

// hintLen is the number of characters kept at each end of a secret when
// producing a diagnostic hint.
const hintLen = 4

// Hint returns a redacted form of the secret safe for logs: a fixed-length
// prefix and suffix joined by an ellipsis. Secrets too short to redact
// meaningfully are fully masked.
func (c *Credential) Hint() string {
	return redact(c.secret)
}

func redact(secret string) string {
	if len(secret) <= hintLen*2 {
		return "****"
	}
	return secret[:hintLen] + "…" + secret[len(secret)-hintLen:]
}

// CredentialStatus is a point-in-time view of one credential, with the
// secret redacted. Used by the pool status endpoint and the status command.
type CredentialStatus struct {
	Index      int       `json:"index"`
	Hint       string    `json:"hint"`
	Available  bool      `json:"available"`
	InFlight   bool      `json:"in_flight"`
	ErrorCount int       `json:"error_count"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Lease represents exclusive use of one credential for a single upstream
// call. The holder must return it via exactly one of Pool.MarkUsed,
// Pool.MarkFailed, or Pool.Restore.
type Lease struct {
	pool *Pool
	cred *Credential
}

// Secret returns the raw credential secret for building the upstream request.
func (l *Lease) Secret() string {
	return l.cred.secret
}

// Index returns the credential's position in the pool. Stable for the
// process lifetime; dispatchers use it to track per-request attempts.
func (l *Lease) Index() int {
	return l.cred.index
}

// Hint returns the redacted secret for diagnostics.
func (l *Lease) Hint() string {
	return l.cred.Hint()
}
