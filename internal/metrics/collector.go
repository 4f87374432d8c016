package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks live gateway metrics. Hot counters are atomics for
// lock-free updates; the labelled per-class maps sit behind a small mutex.
type Collector struct {
	totalRequests  int64
	totalAttempts  int64
	exhausted      int64
	cacheHits      int64
	cacheMisses    int64
	activeRequests int64
	tokensIn       int64
	tokensOut      int64

	mu       sync.Mutex
	attempts map[string]int64 // adapter outcome class -> count
	outcomes map[string]int64 // terminal request outcome -> count

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector, suitable for JSON
// serialisation and the status command.
type Stats struct {
	Uptime         string           `json:"uptime"`
	TotalRequests  int64            `json:"total_requests"`
	TotalAttempts  int64            `json:"total_attempts"`
	Exhausted      int64            `json:"exhausted"`
	TokensIn       int64            `json:"tokens_in"`
	TokensOut      int64            `json:"tokens_out"`
	CacheHits      int64            `json:"cache_hits"`
	CacheMisses    int64            `json:"cache_misses"`
	ActiveRequests int64            `json:"active_requests"`
	Attempts       map[string]int64 `json:"attempts_by_class"`
	Outcomes       map[string]int64 `json:"outcomes"`
}

// NewCollector creates a Collector with all counters at zero.
func NewCollector() *Collector {
	return &Collector{
		attempts:  make(map[string]int64),
		outcomes:  make(map[string]int64),
		startTime: time.Now(),
	}
}

// RecordRequest counts one finished logical request with its terminal
// outcome ("success", "exhausted", "invalid_request", "cancelled").
func (c *Collector) RecordRequest(outcome string) {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.totalRequests, 1)
	if outcome == "exhausted" {
		atomic.AddInt64(&c.exhausted, 1)
	}
	c.mu.Lock()
	c.outcomes[outcome]++
	c.mu.Unlock()
}

// RecordAttempt counts one adapter call by its classified outcome.
func (c *Collector) RecordAttempt(class string) {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.totalAttempts, 1)
	c.mu.Lock()
	c.attempts[class]++
	c.mu.Unlock()
}

// RecordTokens adds upstream token usage for one successful completion.
func (c *Collector) RecordTokens(in, out int) {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.tokensIn, int64(in))
	atomic.AddInt64(&c.tokensOut, int64(out))
}

// RecordCache counts one cache lookup.
func (c *Collector) RecordCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		atomic.AddInt64(&c.cacheHits, 1)
	} else {
		atomic.AddInt64(&c.cacheMisses, 1)
	}
}

// IncrementActive marks a request entering the dispatcher.
func (c *Collector) IncrementActive() {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.activeRequests, 1)
}

// DecrementActive marks a request leaving the dispatcher.
func (c *Collector) DecrementActive() {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.activeRequests, -1)
}

// Stats returns a snapshot of all counters.
func (c *Collector) Stats() *Stats {
	c.mu.Lock()
	attempts := make(map[string]int64, len(c.attempts))
	for k, v := range c.attempts {
		attempts[k] = v
	}
	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	c.mu.Unlock()

	return &Stats{
		Uptime:         time.Since(c.startTime).Round(time.Second).String(),
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		TotalAttempts:  atomic.LoadInt64(&c.totalAttempts),
		Exhausted:      atomic.LoadInt64(&c.exhausted),
		TokensIn:       atomic.LoadInt64(&c.tokensIn),
		TokensOut:      atomic.LoadInt64(&c.tokensOut),
		CacheHits:      atomic.LoadInt64(&c.cacheHits),
		CacheMisses:    atomic.LoadInt64(&c.cacheMisses),
		ActiveRequests: atomic.LoadInt64(&c.activeRequests),
		Attempts:       attempts,
		Outcomes:       outcomes,
	}
}

// sortedKeys returns map keys in a stable order for text exposition.
func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
