package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/keygate/internal/metrics"
	"github.com/allaspectsdev/keygate/internal/pool"
	"github.com/allaspectsdev/keygate/internal/tracing"
	"github.com/allaspectsdev/keygate/internal/upstream"
)

// Adapter makes exactly one upstream call with one credential and one model
// identifier and classifies the outcome. *upstream.Client is the production
// implementation; tests use scripted fakes.
type Adapter interface {
	Complete(ctx context.Context, secret, model string, req *upstream.CompletionRequest) *upstream.CallResult
}

// Config holds the dispatcher tunables.
type Config struct {
	// Tiers lists model identifiers from most- to least-capable. A logical
	// request escalates to the next tier only after every available
	// credential has been tried at the current one.
	Tiers []string
	// MaxAttempts caps adapter calls per logical request.
	MaxAttempts int
	// RetryAfter is the wait hint attached to exhaustion errors.
	RetryAfter int // seconds; 0 means DefaultRetryAfter

	// Request defaults applied when the caller does not set them.
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Dispatcher drives a logical request through credential rotation and tier
// fallback. It is safe for concurrent use: per-request state (tried sets,
// attempt counts) lives on the stack, and the pool serialises its own
// mutations.
type Dispatcher struct {
	pool      *pool.Pool
	adapter   Adapter
	cfg       Config
	log       zerolog.Logger
	collector *metrics.Collector
}

// New creates a Dispatcher. collector may be nil.
func New(p *pool.Pool, adapter Adapter, cfg Config, logger zerolog.Logger, collector *metrics.Collector) (*Dispatcher, error) {
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("dispatch: no model tiers configured")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3 * p.Size()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 1
	}
	return &Dispatcher{
		pool:      p,
		adapter:   adapter,
		cfg:       cfg,
		log:       logger,
		collector: collector,
	}, nil
}

// Complete runs one logical request to a terminal state: a completion from
// some credential at some tier, an ErrInvalidRequest, the caller's context
// error, or an *ExhaustedError once every option within the retry budget is
// spent.
func (d *Dispatcher) Complete(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracing.StartDispatchSpan(ctx, req.RequestID)
	defer span.End()

	d.collector.IncrementActive()
	defer d.collector.DecrementActive()

	tiers := d.cfg.Tiers
	if req.ModelOverride != "" {
		// Explicit model: rotate credentials only, never degrade the model.
		tiers = []string{req.ModelOverride}
	}

	creq := d.buildRequest(req)
	logger := d.log.With().Str("request_id", req.RequestID).Logger()

	attempts := 0
	for tierIdx, model := range tiers {
		// The tried set is scoped to (logical request, tier): a fresh tier
		// gets a fresh view of the pool.
		tried := make(map[int]bool)

		for {
			if attempts >= d.cfg.MaxAttempts {
				return nil, d.exhausted(ctx, logger, model, tierIdx, attempts)
			}

			lease, err := d.pool.Acquire(tried)
			if errors.Is(err, pool.ErrTierExhausted) {
				break // escalate to the next tier
			}
			if err != nil {
				// Nothing usable at all; lower tiers see the same pool.
				return nil, d.exhausted(ctx, logger, model, tierIdx, attempts)
			}

			attempts++
			res := d.adapter.Complete(ctx, lease.Secret(), model, creq)
			d.collector.RecordAttempt(res.Class.String())
			tracing.SetAttemptAttributes(ctx, lease.Hint(), res.Class.String(), res.StatusCode)

			if ctx.Err() != nil {
				// Caller went away: put the credential back untouched.
				d.pool.Restore(lease)
				d.collector.RecordRequest("cancelled")
				tracing.SetDispatchAttributes(ctx, model, tierIdx, attempts, "cancelled")
				return nil, ctx.Err()
			}

			switch res.Class {
			case upstream.ClassSuccess:
				d.pool.MarkUsed(lease)
				d.collector.RecordRequest("success")
				d.collector.RecordTokens(res.Response.Usage.PromptTokens, res.Response.Usage.CompletionTokens)
				tracing.SetDispatchAttributes(ctx, model, tierIdx, attempts, "success")
				return d.assemble(req, res.Response, model, lease.Hint(), tierIdx, attempts), nil

			case upstream.ClassInvalidRequest:
				// The request itself is broken; no credential or tier can
				// help and the credential did nothing wrong.
				d.pool.Restore(lease)
				d.collector.RecordRequest("invalid_request")
				tracing.SetDispatchAttributes(ctx, model, tierIdx, attempts, "invalid_request")
				if res.Hint != "" {
					return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, res.Hint)
				}
				return nil, ErrInvalidRequest

			default:
				d.pool.MarkFailed(lease)
				tried[lease.Index()] = true
				logger.Warn().
					Str("model", model).
					Str("credential", lease.Hint()).
					Str("class", res.Class.String()).
					Int("status", res.StatusCode).
					Int("attempt", attempts).
					Msg("upstream attempt failed, rotating credential")
			}
		}

		if tierIdx < len(tiers)-1 {
			logger.Info().
				Str("model", model).
				Str("next", tiers[tierIdx+1]).
				Msg("tier exhausted, falling back")
		}
	}

	last := len(tiers) - 1
	return nil, d.exhausted(ctx, logger, tiers[last], last, attempts)
}

// buildRequest maps the logical request onto the upstream wire shape,
// applying configured defaults.
func (d *Dispatcher) buildRequest(req *Request) *upstream.CompletionRequest {
	creq := &upstream.CompletionRequest{
		Messages:    req.Messages,
		Temperature: d.cfg.Temperature,
		TopP:        d.cfg.TopP,
		MaxTokens:   d.cfg.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = req.MaxTokens
	}
	return creq
}

// assemble shapes the terminal success, sampling pool telemetry at response
// time rather than reusing any cached view.
func (d *Dispatcher) assemble(req *Request, resp *upstream.CompletionResponse, model, hint string, tier, attempts int) *Result {
	busy, total := d.pool.Snapshot()
	return &Result{
		RequestID:        req.RequestID,
		Model:            model,
		Tier:             tier,
		Attempts:         attempts,
		Message:          resp.Choices[0].Message,
		Usage:            resp.Usage,
		CredentialHint:   hint,
		BusyCredentials:  busy,
		TotalCredentials: total,
	}
}

// exhausted shapes the terminal failure with the same telemetry as a
// success plus the retry hint.
func (d *Dispatcher) exhausted(ctx context.Context, logger zerolog.Logger, model string, tier, attempts int) error {
	busy, total := d.pool.Snapshot()
	retryAfter := DefaultRetryAfter
	if d.cfg.RetryAfter > 0 {
		retryAfter = time.Duration(d.cfg.RetryAfter) * time.Second
	}

	d.collector.RecordRequest("exhausted")
	tracing.SetDispatchAttributes(ctx, model, tier, attempts, "exhausted")
	logger.Warn().
		Int("attempts", attempts).
		Int("busy", busy).
		Int("total", total).
		Msg("all credentials exhausted")

	return &ExhaustedError{
		Attempts:         attempts,
		RetryAfter:       retryAfter,
		BusyCredentials:  busy,
		TotalCredentials: total,
	}
}
