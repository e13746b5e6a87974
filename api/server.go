// Package api exposes the trading core over HTTP: order submission
// and cancellation, book snapshots, trades, portfolios, and the
// WebSocket stream. Authentication happens upstream; handlers trust
// the user_id they are given.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cosmossdk.io/log"

	"github.com/openalpha/bondbook/api/middleware"
	"github.com/openalpha/bondbook/api/websocket"
	"github.com/openalpha/bondbook/engine"
	"github.com/openalpha/bondbook/metrics"
)

// Config contains server configuration
type Config struct {
	Host             string
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	DisableRateLimit bool // For testing purposes
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP front of the trading core.
type Server struct {
	httpServer *http.Server
	config     *Config

	engine      *engine.Engine
	hub         *websocket.Hub
	rateLimiter *middleware.RateLimiter
	logger      log.Logger
	metrics     *metrics.Collector
}

// NewServer creates an API server over an engine and hub.
func NewServer(config *Config, eng *engine.Engine, hub *websocket.Hub, logger log.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:      config,
		engine:      eng,
		hub:         hub,
		rateLimiter: middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
		logger:      logger.With("module", "api"),
		metrics:     metrics.GetCollector(),
	}
}

// Start blocks serving HTTP until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("api server starting", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	// Orders: POST submit on the collection, GET/DELETE on a member
	mux.HandleFunc("/api/v1/orders", s.handleOrders)
	mux.HandleFunc("/api/v1/orders/", s.handleOrder)

	// Market data
	mux.HandleFunc("/api/v1/orderbook/", s.handleOrderbook)
	mux.HandleFunc("/api/v1/trades/", s.handleTrades)

	// Portfolio
	mux.HandleFunc("/api/v1/portfolio/", s.handlePortfolio)

	// Observability
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket
	mux.HandleFunc("/ws", s.hub.ServeWS)

	var handler http.Handler = s.instrument(mux)
	if !s.config.DisableRateLimit {
		handler = middleware.RateLimitMiddleware(s.rateLimiter)(handler)
	}
	return corsMiddleware(handler)
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps the mux with request metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordAPIRequest(r.Method, routePattern(r.URL.Path), fmt.Sprintf("%d", rec.status), timer.ElapsedMs())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routePattern collapses member URLs so metrics labels stay bounded.
func routePattern(path string) string {
	for _, prefix := range []string{
		"/api/v1/orders/",
		"/api/v1/orderbook/",
		"/api/v1/trades/",
		"/api/v1/portfolio/",
	} {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			return prefix + ":id"
		}
	}
	return path
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
