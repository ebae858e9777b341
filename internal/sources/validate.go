package sources

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fathomlabs/fathom/internal/metrics"
)

// Validator probes a URL and reports whether it is reachable.
type Validator interface {
	ValidateURL(ctx context.Context, url string, timeout time.Duration) bool
}

// ValidationSummary aggregates the outcome of a ValidateAll pass.
type ValidationSummary struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Unavailable int `json:"unavailable"`
}

const (
	DefaultValidateConcurrency = 10
	DefaultValidateTimeout     = 3 * time.Second
)

// ValidateAll probes every registered source with bounded concurrency and
// marks it available or unavailable. It runs to completion; callers must not
// exclude claims on availability grounds until it returns.
func (r *Registry) ValidateAll(ctx context.Context, v Validator, maxConcurrency int, timeout time.Duration) ValidationSummary {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultValidateConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultValidateTimeout
	}

	r.mu.RLock()
	targets := make([]*Source, len(r.sources))
	copy(targets, r.sources)
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	results := make([]bool, len(targets))
	for i, src := range targets {
		i, src := i, src
		g.Go(func() error {
			results[i] = v.ValidateURL(gctx, src.URL, timeout)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; unreachable URLs are data

	summary := ValidationSummary{Total: len(targets)}
	r.mu.Lock()
	for i, src := range targets {
		if results[i] {
			src.Status = StatusAvailable
			summary.Available++
			metrics.SourceValidations.WithLabelValues("available").Inc()
		} else {
			src.Status = StatusUnavailable
			summary.Unavailable++
			metrics.SourceValidations.WithLabelValues("unavailable").Inc()
		}
	}
	r.mu.Unlock()

	r.logger.Info("Source validation completed",
		zap.Int("total", summary.Total),
		zap.Int("available", summary.Available),
		zap.Int("unavailable", summary.Unavailable),
	)
	return summary
}

// HTTPValidator probes URLs with HEAD requests, pacing probes through a rate
// limiter so a burst of sources does not hammer one origin.
type HTTPValidator struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPValidator creates a validator issuing at most probesPerSecond probes.
func NewHTTPValidator(probesPerSecond float64) *HTTPValidator {
	if probesPerSecond <= 0 {
		probesPerSecond = 20
	}
	return &HTTPValidator{
		client: &http.Client{
			// Redirects are followed; a 3xx chain ending in 2xx counts as
			// available.
			CheckRedirect: nil,
		},
		limiter: rate.NewLimiter(rate.Limit(probesPerSecond), int(probesPerSecond)),
	}
}

// ValidateURL reports whether the URL answers a HEAD request with a non-error
// status inside the timeout. Timeouts and network errors count as unavailable.
func (hv *HTTPValidator) ValidateURL(ctx context.Context, url string, timeout time.Duration) bool {
	if err := hv.limiter.Wait(ctx); err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := hv.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
