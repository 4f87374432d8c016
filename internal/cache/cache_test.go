package cache

import (
	"testing"
	"time"

	"github.com/allaspectsdev/keygate/internal/dispatch"
	"github.com/allaspectsdev/keygate/internal/upstream"
)

func zeroTemp() *float64 {
	v := 0.0
	return &v
}

func deterministicRequest(content string) *dispatch.Request {
	return &dispatch.Request{
		RequestID:   "test",
		Messages:    []upstream.Message{{Role: "user", Content: content}},
		Temperature: zeroTemp(),
	}
}

func sampleResult(model string) *dispatch.Result {
	return &dispatch.Result{
		RequestID: "test",
		Model:     model,
		Message:   upstream.Message{Role: "assistant", Content: "hi"},
	}
}

func TestKey_SameInputsSameKey(t *testing.T) {
	msgs := []upstream.Message{{Role: "user", Content: "hello"}}
	key1 := Key("model-large", 256, msgs)
	key2 := Key("model-large", 256, msgs)
	if key1 != key2 {
		t.Errorf("expected identical keys, got %q and %q", key1, key2)
	}
}

func TestKey_DifferentModelDifferentKey(t *testing.T) {
	msgs := []upstream.Message{{Role: "user", Content: "hello"}}
	key1 := Key("model-large", 256, msgs)
	key2 := Key("model-small", 256, msgs)
	if key1 == key2 {
		t.Errorf("expected different keys for different models, both got %q", key1)
	}
}

func TestKey_DifferentMessagesDifferentKey(t *testing.T) {
	key1 := Key("m", 256, []upstream.Message{{Role: "user", Content: "hello"}})
	key2 := Key("m", 256, []upstream.Message{{Role: "user", Content: "goodbye"}})
	if key1 == key2 {
		t.Errorf("expected different keys for different messages, both got %q", key1)
	}
}

func TestKey_DifferentMaxTokensDifferentKey(t *testing.T) {
	msgs := []upstream.Message{{Role: "user", Content: "hello"}}
	key1 := Key("m", 64, msgs)
	key2 := Key("m", 1024, msgs)
	if key1 == key2 {
		t.Errorf("expected different keys for different token limits, both got %q", key1)
	}
}

func TestMaxTokensSeparatesEntries(t *testing.T) {
	c, err := New(16, time.Minute, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	short := deterministicRequest("same prompt")
	short.MaxTokens = 64
	long := deterministicRequest("same prompt")
	long.MaxTokens = 1024

	truncated := sampleResult("model-large")
	truncated.Message.Content = "truncated answer"
	c.Put(short, truncated)

	if got := c.Get(long); got != nil {
		t.Errorf("request with a different token limit served %q from cache", got.Message.Content)
	}
	if got := c.Get(short); got == nil || got.Message.Content != "truncated answer" {
		t.Error("original entry should still be served for the matching limit")
	}
}

func TestIsCacheable(t *testing.T) {
	warm := 0.7

	tests := []struct {
		name string
		temp *float64
		want bool
	}{
		{"explicit zero", zeroTemp(), true},
		{"unset falls back to default sampling", nil, false},
		{"non-zero", &warm, false},
	}

	for _, tt := range tests {
		req := &dispatch.Request{Temperature: tt.temp}
		if got := IsCacheable(req); got != tt.want {
			t.Errorf("%s: IsCacheable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCache_PutGet(t *testing.T) {
	c, err := New(8, time.Minute, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := deterministicRequest("question one")
	if got := c.Get(req); got != nil {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(req, sampleResult("model-large"))

	got := c.Get(req)
	if got == nil {
		t.Fatal("expected hit after Put")
	}
	if got.Model != "model-large" {
		t.Errorf("Model: got %q, want model-large", got.Model)
	}
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c, err := New(8, time.Minute, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := deterministicRequest("copy check")
	c.Put(req, sampleResult("model-large"))

	first := c.Get(req)
	first.BusyCredentials = 99

	second := c.Get(req)
	if second.BusyCredentials == 99 {
		t.Error("cached entry was mutated through a returned result")
	}
}

func TestCache_NonDeterministicBypassed(t *testing.T) {
	c, err := New(8, time.Minute, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := &dispatch.Request{
		Messages: []upstream.Message{{Role: "user", Content: "hello"}},
	}
	c.Put(req, sampleResult("model-large"))

	if got := c.Get(req); got != nil {
		t.Error("non-deterministic request must never hit the cache")
	}
	if c.Len() != 0 {
		t.Errorf("Len: got %d, want 0", c.Len())
	}
}

func TestCache_Disabled(t *testing.T) {
	c, err := New(8, time.Minute, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := deterministicRequest("disabled")
	c.Put(req, sampleResult("model-large"))

	if got := c.Get(req); got != nil {
		t.Error("disabled cache must never hit")
	}
}

func TestCache_NilSafe(t *testing.T) {
	var c *Cache

	if c.Enabled() {
		t.Error("nil cache reports enabled")
	}
	if c.Len() != 0 {
		t.Error("nil cache reports entries")
	}
}

func TestCache_Expiry(t *testing.T) {
	c, err := New(8, 10*time.Millisecond, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := deterministicRequest("expires")
	c.Put(req, sampleResult("model-large"))

	time.Sleep(20 * time.Millisecond)

	if got := c.Get(req); got != nil {
		t.Error("expired entry served")
	}
	// The expired entry is evicted on access.
	if c.Len() != 0 {
		t.Errorf("Len after expiry: got %d, want 0", c.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c, err := New(2, time.Minute, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := deterministicRequest("a")
	b := deterministicRequest("b")
	d := deterministicRequest("d")

	c.Put(a, sampleResult("m"))
	c.Put(b, sampleResult("m"))
	c.Put(d, sampleResult("m")) // evicts a

	if got := c.Get(a); got != nil {
		t.Error("oldest entry should have been evicted")
	}
	if got := c.Get(b); got == nil {
		t.Error("recent entry evicted unexpectedly")
	}
	if got := c.Get(d); got == nil {
		t.Error("newest entry evicted unexpectedly")
	}
}

func TestCache_ModelOverrideSeparatesEntries(t *testing.T) {
	c, err := New(8, time.Minute, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := deterministicRequest("same question")
	overridden := deterministicRequest("same question")
	overridden.ModelOverride = "model-custom"

	c.Put(plain, sampleResult("model-large"))

	if got := c.Get(overridden); got != nil {
		t.Error("override request hit the non-override entry")
	}
}
