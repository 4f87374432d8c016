package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/keygate/internal/cache"
	"github.com/allaspectsdev/keygate/internal/dispatch"
	"github.com/allaspectsdev/keygate/internal/metrics"
	"github.com/allaspectsdev/keygate/internal/pool"
	"github.com/allaspectsdev/keygate/internal/store"
	"github.com/allaspectsdev/keygate/internal/tokenizer"
	"github.com/allaspectsdev/keygate/internal/upstream"
)

// statusClientClosedRequest reports caller disconnects in access logs and
// audit rows. Nothing is usually left to receive it.
const statusClientClosedRequest = 499

// Handler exposes the credential-pool gateway over HTTP: one completion
// endpoint plus health, readiness, and pool telemetry.
type Handler struct {
	dispatcher  *dispatch.Dispatcher
	pool        *pool.Pool
	cache       *cache.Cache
	store       *store.Store
	tokenizer   *tokenizer.Tokenizer
	collector   *metrics.Collector
	logger      zerolog.Logger
	maxBodySize int64
}

// NewHandler creates a Handler. cache, store, tokenizer, and collector may
// be nil; the corresponding features are skipped.
func NewHandler(
	d *dispatch.Dispatcher,
	p *pool.Pool,
	c *cache.Cache,
	st *store.Store,
	tok *tokenizer.Tokenizer,
	collector *metrics.Collector,
	logger zerolog.Logger,
	maxBodySize int64,
) *Handler {
	return &Handler{
		dispatcher:  d,
		pool:        p,
		cache:       c,
		store:       st,
		tokenizer:   tok,
		collector:   collector,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// completionRequest is the inbound JSON body for the completion endpoint.
type completionRequest struct {
	Model       string             `json:"model,omitempty"`
	Messages    []upstream.Message `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

// HandleComplete runs one logical completion request through the dispatcher.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()
	requestID := uuid.New().String()

	logger := h.logger.With().
		Str("request_id", requestID).
		Str("path", r.URL.Path).
		Logger()

	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		logger.Error().Err(err).Msg("failed to read request body")
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var in completionRequest
	if err := json.Unmarshal(body, &in); err != nil {
		logger.Warn().Err(err).Msg("malformed request body")
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(in.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	req := &dispatch.Request{
		RequestID:     requestID,
		Messages:      in.Messages,
		ModelOverride: in.Model,
		Temperature:   in.Temperature,
		MaxTokens:     in.MaxTokens,
	}

	logger = logger.With().Str("model", in.Model).Logger()

	// Deterministic requests may be served from the completion cache without
	// consuming a credential.
	if cached := h.cache.Get(req); cached != nil {
		h.collector.RecordCache(true)
		cached.RequestID = requestID
		busy, total := h.pool.Snapshot()
		cached.BusyCredentials = busy
		cached.TotalCredentials = total

		logger.Info().Msg("served from cache")
		h.audit(cached, req, "success", true, startTime, "")
		w.Header().Set("X-Cache", "hit")
		writeJSON(w, http.StatusOK, cached)
		return
	}
	if cache.IsCacheable(req) {
		h.collector.RecordCache(false)
	}

	res, err := h.dispatcher.Complete(ctx, req)
	if err != nil {
		h.writeDispatchError(w, logger, req, err, startTime)
		return
	}

	// Backfill usage when the upstream response omitted it.
	if h.tokenizer != nil {
		res.Usage = h.tokenizer.EstimateUsage(res.Model, req.Messages, res.Message, res.Usage)
	}

	h.cache.Put(req, res)
	h.audit(res, req, "success", false, startTime, "")

	logger.Info().
		Str("served_model", res.Model).
		Int("attempts", res.Attempts).
		Dur("latency", time.Since(startTime)).
		Msg("request completed")

	writeJSON(w, http.StatusOK, res)
}

// writeDispatchError maps dispatcher failures onto HTTP statuses. Secrets
// and raw upstream bodies never reach the caller.
func (h *Handler) writeDispatchError(w http.ResponseWriter, logger zerolog.Logger, req *dispatch.Request, err error, startTime time.Time) {
	var exhausted *dispatch.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		logger.Warn().
			Int("attempts", exhausted.Attempts).
			Int("busy", exhausted.BusyCredentials).
			Int("total", exhausted.TotalCredentials).
			Msg("all credentials exhausted")
		h.auditFailure(req, "exhausted", startTime, exhausted.Error())

		retryAfter := int(exhausted.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = int(dispatch.DefaultRetryAfter.Seconds())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message":             "no credentials available, retry later",
				"type":                "exhausted",
				"retry_after_seconds": retryAfter,
				"busy_credentials":    exhausted.BusyCredentials,
				"total_credentials":   exhausted.TotalCredentials,
			},
		})

	case errors.Is(err, dispatch.ErrInvalidRequest):
		logger.Warn().Err(err).Msg("request rejected by upstream")
		h.auditFailure(req, "invalid_request", startTime, err.Error())
		writeJSONError(w, http.StatusBadRequest, "request rejected by upstream")

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info().Msg("caller gave up")
		h.auditFailure(req, "cancelled", startTime, "")
		w.WriteHeader(statusClientClosedRequest)

	default:
		logger.Error().Err(err).Msg("dispatch failed")
		h.auditFailure(req, "error", startTime, err.Error())
		writeJSONError(w, http.StatusBadGateway, "upstream failure")
	}
}

// HandleHealth returns a simple JSON health check response.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// HandleReady reports whether the gateway can serve traffic: the pool has
// credentials and the audit store (when configured) answers.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if _, total := h.pool.Snapshot(); total == 0 {
		writeJSONError(w, http.StatusServiceUnavailable, "credential pool is empty")
		return
	}
	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "audit store unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// HandlePool returns the live pool telemetry: busy/total counts plus
// per-credential state (hints only, never secrets).
func (h *Handler) HandlePool(w http.ResponseWriter, r *http.Request) {
	busy, total := h.pool.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"busy":        busy,
		"total":       total,
		"credentials": h.pool.Status(),
	})
}

// audit persists one row for a completed request. Failures are logged, never
// surfaced to the caller.
func (h *Handler) audit(res *dispatch.Result, req *dispatch.Request, outcome string, cacheHit bool, startTime time.Time, errMsg string) {
	if h.store == nil {
		return
	}
	row := &store.Request{
		ID:           req.RequestID,
		Timestamp:    startTime.UTC().Format(time.RFC3339),
		Outcome:      outcome,
		CacheHit:     cacheHit,
		LatencyMs:    time.Since(startTime).Milliseconds(),
		ErrorMessage: errMsg,
	}
	if res != nil {
		row.Model = res.Model
		row.Tier = res.Tier
		row.Attempts = res.Attempts
		if cacheHit {
			// No adapter calls were spent on a cache hit.
			row.Attempts = 0
		}
		row.TokensIn = int64(res.Usage.PromptTokens)
		row.TokensOut = int64(res.Usage.CompletionTokens)
		row.KeyHint = res.CredentialHint
	} else {
		row.Model = req.ModelOverride
	}
	if err := h.store.InsertRequest(row); err != nil {
		h.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("audit insert failed")
	}
}

// auditFailure persists a row for a request that produced no result.
func (h *Handler) auditFailure(req *dispatch.Request, outcome string, startTime time.Time, errMsg string) {
	h.audit(nil, req, outcome, false, startTime, errMsg)
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "gateway_error",
		},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}
