// Package policy decorates raw route handlers with the gateway's
// cross-cutting policies: rate limiting, authorization scope enforcement
// and response header injection.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/config"
	"github.com/taylorshaulis/adsws/internal/ratelimit"
	"github.com/taylorshaulis/adsws/internal/ratelimit/store"
	"github.com/taylorshaulis/adsws/internal/routing"
)

// CallerKeyFunc extracts the caller identity used to scope rate limit
// counters.
type CallerKeyFunc func(r *http.Request) string

// RemoteAddrKeyFunc keys rate limits by client address.
func RemoteAddrKeyFunc(r *http.Request) string {
	return r.RemoteAddr
}

// Pipeline wraps raw handlers with the ordered policy stages. The wrap
// order, innermost to outermost, is fixed: rate limiting, scope
// enforcement, header injection. Each stage is independently toggleable:
// an absent configuration makes that stage the identity transform.
type Pipeline struct {
	store        store.Store
	verifier     ScopeVerifier
	headers      map[string]string
	defaultLimit config.RateLimit
	keyFunc      CallerKeyFunc
	logger       *zap.Logger
}

// PipelineOption is a functional option for configuring the pipeline.
type PipelineOption func(*Pipeline)

// WithStore sets the shared counter store for rate limiting. Without a
// store, counters are local to the process.
func WithStore(s store.Store) PipelineOption {
	return func(p *Pipeline) {
		p.store = s
	}
}

// WithScopeVerifier sets the credential verifier used for scope
// enforcement. Without a verifier, scope enforcement is disabled.
func WithScopeVerifier(v ScopeVerifier) PipelineOption {
	return func(p *Pipeline) {
		p.verifier = v
	}
}

// WithResponseHeaders sets the fixed headers attached to every response
// of every composed route.
func WithResponseHeaders(headers map[string]string) PipelineOption {
	return func(p *Pipeline) {
		p.headers = headers
	}
}

// WithCallerKeyFunc sets the caller identity function for rate limit keys.
func WithCallerKeyFunc(fn CallerKeyFunc) PipelineOption {
	return func(p *Pipeline) {
		p.keyFunc = fn
	}
}

// WithDefaultRateLimit sets the budget applied to routes whose backend
// does not declare one.
func WithDefaultRateLimit(limit config.RateLimit) PipelineOption {
	return func(p *Pipeline) {
		p.defaultLimit = limit
	}
}

// NewPipeline creates a policy pipeline.
func NewPipeline(logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		defaultLimit: config.DefaultRateLimit,
		keyFunc:      RemoteAddrKeyFunc,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Wrap implements routing.Wrapper. The descriptor's limit and scope
// configuration is captured by value at wrap time.
func (p *Pipeline) Wrap(handler http.Handler, routePath string, desc routing.Descriptor) http.Handler {
	limit := p.defaultLimit
	if desc.RateLimit != nil {
		limit = *desc.RateLimit
	}

	h := p.rateLimitStage(handler, routePath, limit)
	h = p.scopeStage(h, routePath, append([]string(nil), desc.Scopes...))
	h = p.headerStage(h)
	return h
}

// rateLimitStage rejects callers exceeding the route's budget. The
// counter key combines the caller identity with the route, so one noisy
// caller cannot exhaust another's budget.
func (p *Pipeline) rateLimitStage(next http.Handler, routePath string, limit config.RateLimit) http.Handler {
	if limit.Count <= 0 || limit.Period <= 0 {
		return next
	}

	window := time.Duration(limit.Period) * time.Second
	limiter := ratelimit.NewFixedWindowLimiter(p.store, limit.Count, window, p.logger)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := p.keyFunc(r) + ":" + routePath

		result, err := limiter.Allow(r.Context(), key)
		if err != nil {
			// Fail open: a broken store must not take down serving.
			p.logger.Error("rate limit check failed",
				zap.String("route", routePath),
				zap.Error(err),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// scopeStage rejects callers whose credential does not grant every
// required scope. An empty scope set or an absent verifier leaves the
// handler untouched.
func (p *Pipeline) scopeStage(next http.Handler, routePath string, scopes []string) http.Handler {
	if len(scopes) == 0 || p.verifier == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := p.verifier.Check(r, scopes); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrInsufficientScope) {
				status = http.StatusForbidden
			}

			p.logger.Debug("scope check rejected request",
				zap.String("route", routePath),
				zap.Int("status", status),
				zap.Error(err),
			)
			writeError(w, status, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// headerStage unconditionally attaches the configured fixed headers to
// every response.
func (p *Pipeline) headerStage(next http.Handler) http.Handler {
	if len(p.headers) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range p.headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
