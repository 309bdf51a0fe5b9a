// Package server exposes a composed routing table over HTTP. The table
// is immutable once published; re-discovery swaps in a whole new table
// atomically.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/routing"
)

// Server serves the gateway's composed routes.
type Server struct {
	addr       string
	logger     *zap.Logger
	engine     atomic.Pointer[gin.Engine]
	httpServer *http.Server
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server listening on addr. It serves an empty table until
// the first Swap.
func New(addr string, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:   addr,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	empty := routing.NewTable()
	empty.Freeze()
	s.engine.Store(s.buildEngine(empty))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Swap publishes a new routing table. The table must be frozen; in-flight
// requests keep using the table they started with.
func (s *Server) Swap(table *routing.Table) {
	s.engine.Store(s.buildEngine(table))
	s.logger.Info("routing table published",
		zap.Int("routes", table.Len()),
	)
}

// ServeHTTP implements http.Handler by delegating to the current engine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.Load().ServeHTTP(w, r)
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// buildEngine mounts a routing table onto a fresh gin engine.
func (s *Server) buildEngine(table *routing.Table) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.HandleMethodNotAllowed = true

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, entry := range table.Entries() {
		for _, method := range entry.Methods {
			s.register(engine, method, entry.Path, gin.WrapH(entry.Handler))
		}
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no route"})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	return engine
}

// register mounts one (method, path) pair onto the engine. gin panics
// when a route collides with an already-registered one, such as the
// gateway's own /metrics; the conflicting route is dropped with a
// warning and the rest of the table still mounts.
func (s *Server) register(engine *gin.Engine, method, path string, handler gin.HandlerFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("route conflicts with a gateway route, skipping",
				zap.String("method", method),
				zap.String("path", path),
				zap.Any("reason", r),
			)
		}
	}()

	engine.Handle(method, path, handler)
}
