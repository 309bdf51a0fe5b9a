// Package proxy builds the handlers that forward composed routes to
// remote backends.
package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// supportedMethods is the fixed set of methods a proxied route can
// accept. A manifest method outside this set is dropped by the composer.
var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// Config holds transport settings for proxied requests.
type Config struct {
	// Timeout bounds a proxied request against the backend.
	Timeout time.Duration

	// AddForwardedHeaders controls X-Forwarded-* header injection.
	AddForwardedHeaders bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Timeout:             30 * time.Second,
		AddForwardedHeaders: true,
	}
}

// Factory creates one proxy handler per composed route for a single
// backend. It implements routing.HandlerFactory.
type Factory struct {
	base      *url.URL
	transport http.RoundTripper
	config    *Config
	logger    *zap.Logger
}

// NewFactory creates a handler factory proxying to the backend at
// baseURL. baseURL must have been validated upstream during discovery.
func NewFactory(baseURL string, cfg *Config, logger *zap.Logger) (*Factory, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &Factory{
		base:      base,
		transport: transport,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Supports implements routing.HandlerFactory.
func (f *Factory) Supports(method string) bool {
	return supportedMethods[strings.ToUpper(method)]
}

// Handler implements routing.HandlerFactory. The returned handler
// forwards requests for the composed route to the backend's resource at
// relativePath.
func (f *Factory) Handler(routePath, relativePath string) http.Handler {
	target := f.base.JoinPath(strings.TrimPrefix(relativePath, "/"))

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			originalHost := req.Host

			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = target.Path
			req.Host = target.Host

			if f.config.AddForwardedHeaders {
				if prior := req.Header.Get("X-Forwarded-Host"); prior == "" {
					req.Header.Set("X-Forwarded-Host", originalHost)
				}
			}
		},
		Transport: f.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			f.logger.Error("proxy request failed",
				zap.String("route", routePath),
				zap.String("target", target.String()),
				zap.Error(err),
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return rp
}
