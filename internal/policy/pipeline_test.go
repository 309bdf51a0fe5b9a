package policy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/config"
	"github.com/taylorshaulis/adsws/internal/routing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// allowVerifier implements ScopeVerifier with a fixed outcome.
type allowVerifier struct {
	err error
}

func (v *allowVerifier) Check(_ *http.Request, _ []string) error {
	return v.err
}

func serve(t *testing.T, handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPipeline_IdentityWhenUnconfigured(t *testing.T) {
	// No scopes, no rate limit, no headers: the wrapped handler behaves
	// exactly like the raw one.
	pipeline := NewPipeline(zap.NewNop(),
		WithDefaultRateLimit(config.RateLimit{}),
	)

	wrapped := pipeline.Wrap(okHandler(), "/svc/widgets", routing.Descriptor{
		Path:    "widgets",
		Methods: []string{"GET"},
	})

	rec := serve(t, wrapped, httptest.NewRequest(http.MethodGet, "/svc/widgets", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestPipeline_HeaderInjection(t *testing.T) {
	pipeline := NewPipeline(zap.NewNop(),
		WithDefaultRateLimit(config.RateLimit{}),
		WithResponseHeaders(map[string]string{
			"Cache-Control": "public, max-age=600",
		}),
	)

	wrapped := pipeline.Wrap(okHandler(), "/svc/widgets", routing.Descriptor{})

	rec := serve(t, wrapped, httptest.NewRequest(http.MethodGet, "/svc/widgets", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=600", rec.Header().Get("Cache-Control"))
}

func TestPipeline_RateLimit(t *testing.T) {
	pipeline := NewPipeline(zap.NewNop())

	wrapped := pipeline.Wrap(okHandler(), "/svc/widgets", routing.Descriptor{
		RateLimit: &config.RateLimit{Count: 2, Period: 60},
	})

	req := httptest.NewRequest(http.MethodGet, "/svc/widgets", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	for i := 0; i < 2; i++ {
		rec := serve(t, wrapped, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := serve(t, wrapped, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestPipeline_RateLimitKeyedByCaller(t *testing.T) {
	pipeline := NewPipeline(zap.NewNop(),
		WithCallerKeyFunc(func(r *http.Request) string {
			return r.Header.Get("X-Caller")
		}),
	)

	wrapped := pipeline.Wrap(okHandler(), "/svc/widgets", routing.Descriptor{
		RateLimit: &config.RateLimit{Count: 1, Period: 60},
	})

	for _, caller := range []string{"alpha", "beta"} {
		req := httptest.NewRequest(http.MethodGet, "/svc/widgets", nil)
		req.Header.Set("X-Caller", caller)

		rec := serve(t, wrapped, req)
		assert.Equal(t, http.StatusOK, rec.Code, "first request for %s", caller)

		rec = serve(t, wrapped, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "second request for %s", caller)
	}
}

func TestPipeline_RateLimitDefaultsApply(t *testing.T) {
	pipeline := NewPipeline(zap.NewNop(),
		WithDefaultRateLimit(config.RateLimit{Count: 1, Period: 60}),
	)

	// Descriptor declares no budget, so the gateway default applies.
	wrapped := pipeline.Wrap(okHandler(), "/svc/widgets", routing.Descriptor{})

	req := httptest.NewRequest(http.MethodGet, "/svc/widgets", nil)
	req.RemoteAddr = "10.0.0.2:1234"

	rec := serve(t, wrapped, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, wrapped, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPipeline_ScopeEnforcement(t *testing.T) {
	tests := []struct {
		name       string
		verifier   ScopeVerifier
		scopes     []string
		wantStatus int
	}{
		{
			name:       "granted",
			verifier:   &allowVerifier{},
			scopes:     []string{"read"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing credential",
			verifier:   &allowVerifier{err: ErrMissingCredential},
			scopes:     []string{"read"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid credential",
			verifier:   &allowVerifier{err: ErrInvalidCredential},
			scopes:     []string{"read"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "insufficient scope",
			verifier:   &allowVerifier{err: fmt.Errorf("%w: read", ErrInsufficientScope)},
			scopes:     []string{"read"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "empty scope set bypasses verification",
			verifier:   &allowVerifier{err: ErrMissingCredential},
			scopes:     nil,
			wantStatus: http.StatusOK,
		},
		{
			name:       "no verifier disables enforcement",
			verifier:   nil,
			scopes:     []string{"read"},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []PipelineOption{WithDefaultRateLimit(config.RateLimit{})}
			if tt.verifier != nil {
				opts = append(opts, WithScopeVerifier(tt.verifier))
			}
			pipeline := NewPipeline(zap.NewNop(), opts...)

			wrapped := pipeline.Wrap(okHandler(), "/svc/widgets", routing.Descriptor{
				Scopes: tt.scopes,
			})

			rec := serve(t, wrapped, httptest.NewRequest(http.MethodGet, "/svc/widgets", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestPipeline_RejectionsStillCarryHeaders(t *testing.T) {
	// Header injection is the outermost stage, so even a 401 carries the
	// configured headers.
	pipeline := NewPipeline(zap.NewNop(),
		WithDefaultRateLimit(config.RateLimit{}),
		WithScopeVerifier(&allowVerifier{err: ErrMissingCredential}),
		WithResponseHeaders(map[string]string{"Cache-Control": "no-store"}),
	)

	wrapped := pipeline.Wrap(okHandler(), "/svc/widgets", routing.Descriptor{
		Scopes: []string{"read"},
	})

	rec := serve(t, wrapped, httptest.NewRequest(http.MethodGet, "/svc/widgets", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
