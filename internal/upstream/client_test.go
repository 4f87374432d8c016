package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testRequest() *CompletionRequest {
	return &CompletionRequest{
		Messages:    []Message{{Role: "user", Content: "hello"}},
		Temperature: 0.7,
		TopP:        1,
		MaxTokens:   256,
	}
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-secret" {
			t.Errorf("missing bearer credential, got %q", got)
		}
		var body CompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body.Model != "model-large" {
			t.Errorf("model not injected, got %q", body.Model)
		}
		json.NewEncoder(w).Encode(CompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "hi"}}},
			Usage:   Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	res := c.Complete(context.Background(), "sk-secret", "model-large", testRequest())

	if res.Class != ClassSuccess {
		t.Fatalf("class = %v (%v)", res.Class, res.Err)
	}
	if res.Response.Choices[0].Message.Content != "hi" {
		t.Fatalf("unexpected content %q", res.Response.Choices[0].Message.Content)
	}
	if res.Response.Usage.TotalTokens != 4 {
		t.Fatalf("usage not decoded: %+v", res.Response.Usage)
	}
}

func TestComplete_ErrorHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit reached","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	res := c.Complete(context.Background(), "sk-secret", "model-large", testRequest())

	if res.Class != ClassRateLimited {
		t.Fatalf("class = %v", res.Class)
	}
	if res.Hint != "rate limit reached" {
		t.Fatalf("hint = %q", res.Hint)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestComplete_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": not-json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	res := c.Complete(context.Background(), "sk-secret", "model-large", testRequest())

	if res.Class != ClassMalformedResponse {
		t.Fatalf("class = %v", res.Class)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	res := c.Complete(context.Background(), "sk-secret", "model-large", testRequest())

	if res.Class != ClassMalformedResponse {
		t.Fatalf("empty choices should be a malformed response, got %v", res.Class)
	}
}

func TestComplete_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	res := c.Complete(context.Background(), "sk-secret", "model-large", testRequest())

	if res.Class != ClassTransportError {
		t.Fatalf("class = %v", res.Class)
	}
	if res.Err == nil {
		t.Fatal("transport errors must carry the underlying error")
	}
}

func TestComplete_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, 10*time.Second, zerolog.Nop())
	res := c.Complete(ctx, "sk-secret", "model-large", testRequest())

	if res.Class != ClassTransportError {
		t.Fatalf("class = %v", res.Class)
	}
}

func TestReadErrorHint_Truncates(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write(long)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	res := c.Complete(context.Background(), "sk-secret", "model-large", testRequest())

	if len(res.Hint) > 200 {
		t.Fatalf("hint not truncated: %d bytes", len(res.Hint))
	}
}
