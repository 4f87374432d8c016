package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/keygate/internal/tracing"
)

// maxErrorBodySize bounds how much of an upstream error body is read for the
// diagnostic hint.
const maxErrorBodySize = 8 << 10 // 8 KB

// maxResponseSize bounds how much of an upstream success body is read.
const maxResponseSize = 10 << 20 // 10 MB

// CallResult is the classified outcome of exactly one upstream call.
type CallResult struct {
	Class      Class
	StatusCode int
	Response   *CompletionResponse
	// Hint is a truncated human-readable error string from the upstream
	// body. Secondary diagnostic only — never used for classification.
	Hint string
	Err  error
}

// Client makes single completion calls against the upstream endpoint. It
// owns a shared http.Client with connection pooling; the per-call timeout
// comes from the request context.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewClient creates a Client for the given base URL. timeout bounds each
// call end to end; every external call must carry one.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger,
	}
}

// Complete sends one completion request using one credential and one model
// identifier, and classifies the outcome. It never retries; rotation is the
// dispatcher's job.
func (c *Client) Complete(ctx context.Context, secret, model string, req *CompletionRequest) *CallResult {
	body := *req
	body.Model = model

	payload, err := json.Marshal(&body)
	if err != nil {
		return &CallResult{
			Class: ClassInvalidRequest,
			Err:   fmt.Errorf("encoding completion request: %w", err),
		}
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &CallResult{
			Class: ClassInvalidRequest,
			Err:   fmt.Errorf("creating upstream request: %w", err),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+secret)

	tracing.InjectHeaders(ctx, httpReq)
	ctx, span := tracing.StartUpstreamSpan(ctx, url, model)
	defer span.End()

	resp, err := c.httpClient.Do(httpReq.WithContext(ctx))
	if err != nil {
		tracing.RecordError(ctx, err)
		return &CallResult{
			Class: ClassTransportError,
			Err:   fmt.Errorf("calling upstream %s: %w", url, err),
		}
	}
	defer resp.Body.Close()

	class := ClassifyStatus(resp.StatusCode)
	result := &CallResult{Class: class, StatusCode: resp.StatusCode}

	if class != ClassSuccess {
		result.Hint = readErrorHint(resp.Body)
		result.Err = fmt.Errorf("upstream returned status %d", resp.StatusCode)
		return result
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		tracing.RecordError(ctx, err)
		return &CallResult{
			Class:      ClassTransportError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("reading upstream response: %w", err),
		}
	}

	var completion CompletionResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		return &CallResult{
			Class:      ClassMalformedResponse,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding upstream response: %w", err),
		}
	}
	if len(completion.Choices) == 0 {
		return &CallResult{
			Class:      ClassMalformedResponse,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upstream response has no choices"),
		}
	}

	result.Response = &completion
	return result
}

// readErrorHint extracts a short human-readable message from an upstream
// error body. Truncated raw text is the fallback when the vendor envelope
// does not decode.
func readErrorHint(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return ""
	}

	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}

	hint := strings.TrimSpace(string(data))
	if len(hint) > 200 {
		hint = hint[:200]
	}
	return hint
}
