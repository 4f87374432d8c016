package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrExhausted is returned by Acquire when no credential is usable right now,
// regardless of what the request has already tried. Callers should fail the
// logical request (or escalate, if other tiers remain untouched).
var ErrExhausted = errors.New("pool: no credentials available")

// ErrTierExhausted is returned by Acquire when usable credentials exist but
// the request has already tried all of them. Callers should escalate to the
// next model tier.
var ErrTierExhausted = errors.New("pool: all available credentials already tried")

// errorPenaltySeconds is the weight applied to errorCount when every
// remaining candidate has a nonzero error count. One error outweighs five
// minutes of idle age so healthier credentials win even when recently used.
const errorPenaltySeconds = 300.0

// Options tunes cooldown and selection behaviour. Zero values fall back to
// the package defaults.
type Options struct {
	// CooldownBase is the unavailability window after a single failure.
	CooldownBase time.Duration
	// CooldownMultipliers scales CooldownBase by errorCount (index i applies
	// to errorCount i+1; counts past the end reuse the last entry).
	CooldownMultipliers []float64
	// CooldownCeiling caps the computed cooldown.
	CooldownCeiling time.Duration
	// StaggerInterval spaces the initial lastUsedAt values so the first burst
	// of concurrent requests does not pile onto one credential.
	StaggerInterval time.Duration
	// DecayOnSuccess decrements errorCount on a successful call. A fairness
	// tunable, not required for correctness.
	DecayOnSuccess bool
	// Clock overrides the time source. Tests use it to simulate cooldown
	// elapse; nil means time.Now.
	Clock func() time.Time
}

// Pool multiplexes a fixed set of upstream credentials across concurrent
// requests. All state lives behind one mutex; selection and mark-in-flight
// happen in the same critical section so two requests can never hold the
// same credential at once. The set is fixed at construction and never
// mutated at runtime.
type Pool struct {
	mu    sync.Mutex
	creds []*Credential
	opts  Options
	log   zerolog.Logger

	// now is swappable in tests to simulate cooldown elapse.
	now func() time.Time
}

// New builds a pool from the resolved credential secrets, in configuration
// order. An empty secret list means the provider is unconfigured and is an
// error.
func New(secrets []string, opts Options, logger zerolog.Logger) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, errors.New("pool: no credentials configured")
	}
	if opts.CooldownBase <= 0 {
		opts.CooldownBase = DefaultCooldownBase
	}
	if opts.CooldownCeiling <= 0 {
		opts.CooldownCeiling = DefaultCooldownCeiling
	}
	if opts.StaggerInterval <= 0 {
		opts.StaggerInterval = 100 * time.Millisecond
	}

	p := &Pool{
		opts: opts,
		log:  logger,
		now:  time.Now,
	}
	if opts.Clock != nil {
		p.now = opts.Clock
	}

	// Stagger initial lastUsedAt values: index 0 looks least recently used,
	// so the startup burst walks the pool in configuration order instead of
	// stampeding one credential.
	start := p.now()
	n := len(secrets)
	for i, s := range secrets {
		p.creds = append(p.creds, &Credential{
			secret:     s,
			index:      i,
			available:  true,
			lastUsedAt: start.Add(-time.Duration(n-i) * opts.StaggerInterval),
		})
	}

	return p, nil
}

// Size returns the fixed number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Acquire selects the best usable credential not yet tried by the calling
// request and marks it in flight, atomically. tried holds the pool indices
// the calling logical request has already attempted at its current tier; the
// caller owns that set and resets it per request.
//
// Selection order among untried, available, idle credentials:
//  1. errorCount == 0, least recently used first (ties by pool index).
//  2. Otherwise a weighted score: errorCount heavily penalised, older
//     last-use preferred.
func (p *Pool) Acquire(tried map[int]bool) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recoverLocked()

	var candidates []*Credential
	anyUsable := false
	for _, c := range p.creds {
		if !c.available || c.inFlight {
			continue
		}
		anyUsable = true
		if tried[c.index] {
			continue
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		if anyUsable {
			return nil, ErrTierExhausted
		}
		return nil, ErrExhausted
	}

	best := p.pickLocked(candidates)
	best.inFlight = true
	best.lastUsedAt = p.now()

	return &Lease{pool: p, cred: best}, nil
}

// recoverLocked flips credentials back to available once their cooldown has
// elapsed, decrementing errorCount by one (floor 0). It runs before every
// selection so stale unavailability never blocks indefinitely. Caller holds
// the mutex.
func (p *Pool) recoverLocked() {
	now := p.now()
	for _, c := range p.creds {
		if c.available {
			continue
		}
		cd := cooldownFor(c.errorCount, p.opts.CooldownBase, p.opts.CooldownMultipliers, p.opts.CooldownCeiling)
		if now.Sub(c.lastUsedAt) >= cd {
			c.available = true
			if c.errorCount > 0 {
				c.errorCount--
			}
			p.log.Debug().
				Int("credential", c.index).
				Str("hint", c.Hint()).
				Int("error_count", c.errorCount).
				Msg("credential recovered from cooldown")
		}
	}
}

// pickLocked chooses the best candidate. candidates is non-empty and already
// in pool-index order, which makes every tie-break deterministic. Caller
// holds the mutex.
func (p *Pool) pickLocked(candidates []*Credential) *Credential {
	// Prefer credentials with a clean error history, least recently used
	// first.
	var best *Credential
	for _, c := range candidates {
		if c.errorCount != 0 {
			continue
		}
		if best == nil || c.lastUsedAt.Before(best.lastUsedAt) {
			best = c
		}
	}
	if best != nil {
		return best
	}

	// Every candidate has failed recently: rank by error count (heavy
	// penalty) against idle age, lowest score wins.
	now := p.now()
	bestScore := 0.0
	for _, c := range candidates {
		score := float64(c.errorCount)*errorPenaltySeconds - now.Sub(c.lastUsedAt).Seconds()
		if best == nil || score < bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

// MarkFailed records a failed upstream call: the credential goes unavailable
// for a cooldown window and its error count grows.
func (p *Pool) MarkFailed(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := l.cred
	c.inFlight = false
	c.available = false
	c.lastUsedAt = p.now()
	c.errorCount++

	p.log.Debug().
		Int("credential", c.index).
		Str("hint", c.Hint()).
		Int("error_count", c.errorCount).
		Msg("credential marked unavailable")
}

// MarkUsed records a successful upstream call and releases the lease. When
// DecayOnSuccess is set, the error count shrinks toward zero so a credential
// with a bad patch of history regains preference over time.
func (p *Pool) MarkUsed(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := l.cred
	c.inFlight = false
	c.lastUsedAt = p.now()
	if p.opts.DecayOnSuccess && c.errorCount > 0 {
		c.errorCount--
	}
}

// Restore releases the lease without judging the credential. Used when the
// caller cancelled mid-call or the failure was the request's own fault: the
// credential stays available and its error count is untouched.
func (p *Pool) Restore(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l.cred.inFlight = false
}

// Snapshot reports how many credentials are currently busy (cooling down or
// in flight) out of the pool total. Computed by scanning at call time, never
// cached.
func (p *Pool) Snapshot() (busy, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if !c.available || c.inFlight {
			busy++
		}
	}
	return busy, len(p.creds)
}

// Status returns a redacted per-credential view for diagnostics.
func (p *Pool) Status() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CredentialStatus, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, CredentialStatus{
			Index:      c.index,
			Hint:       c.Hint(),
			Available:  c.available,
			InFlight:   c.inFlight,
			ErrorCount: c.errorCount,
			LastUsedAt: c.lastUsedAt,
		})
	}
	return out
}

// SetOptions replaces the cooldown tunables. Called by the config watcher on
// hot reload; the credential set itself never changes.
func (p *Pool) SetOptions(opts Options) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if opts.CooldownBase <= 0 {
		opts.CooldownBase = DefaultCooldownBase
	}
	if opts.CooldownCeiling <= 0 {
		opts.CooldownCeiling = DefaultCooldownCeiling
	}
	stagger := p.opts.StaggerInterval
	p.opts = opts
	p.opts.StaggerInterval = stagger
}
