package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/allaspectsdev/keygate/internal/dispatch"
	"github.com/allaspectsdev/keygate/internal/upstream"
)

// Key computes a deterministic SHA-256 cache key from the model identifier,
// the completion budget, and the message list. The key is hex-encoded.
// MaxTokens participates because a completion truncated to one caller's
// limit must never be served to a caller with a different limit.
func Key(model string, maxTokens int, messages []upstream.Message) string {
	h := sha256.New()

	h.Write([]byte(model))
	h.Write([]byte{0}) // separator
	h.Write([]byte(strconv.Itoa(maxTokens)))
	h.Write([]byte{0})

	if len(messages) > 0 {
		msgBytes, err := json.Marshal(messages)
		if err != nil {
			// Fall back to writing individual fields.
			for _, m := range messages {
				h.Write([]byte(m.Role))
				h.Write([]byte{0})
				h.Write([]byte(m.Content))
				h.Write([]byte{0})
			}
		} else {
			h.Write(msgBytes)
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// IsCacheable returns true if the request is eligible for caching. Only
// deterministic requests qualify: the caller must have pinned temperature
// to exactly 0. Requests that fall back to the configured default
// temperature are never cached.
func IsCacheable(req *dispatch.Request) bool {
	return req.Temperature != nil && *req.Temperature == 0
}

// requestKey derives the cache key for a dispatch request. The model
// override participates so an override and the default tier walk never
// share entries; MaxTokens of 0 means the configured default and hashes
// distinctly from any explicit limit.
func requestKey(req *dispatch.Request) string {
	return Key(req.ModelOverride, req.MaxTokens, req.Messages)
}
