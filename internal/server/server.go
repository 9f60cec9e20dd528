package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/observability"
	"github.com/omniswap/swapd/internal/server/handler"
	"github.com/omniswap/swapd/internal/server/middleware"
	"github.com/omniswap/swapd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	Metrics     bool   // expose GET /metrics
	RateLimit   int    // requests per second per client; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Swaps    *handler.SwapHandler
	Quotes   *handler.QuoteHandler
	Triggers *handler.TriggerHandler
	Prices   *handler.PriceHandler
}

// Server is the HTTP + WebSocket API for the swap engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. limiter may be nil when cfg.RateLimit is 0.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Quote endpoints.
	mux.HandleFunc("POST /api/quotes", handlers.Quotes.RequestQuote)
	mux.HandleFunc("GET /api/quotes/{id}", handlers.Quotes.GetQuote)

	// Swap lifecycle endpoints.
	mux.HandleFunc("POST /api/swaps", handlers.Swaps.CreateSwap)
	mux.HandleFunc("GET /api/swaps/{id}", handlers.Swaps.GetSwap)
	mux.HandleFunc("GET /api/swaps/{id}/events", handlers.Swaps.ListSwapEvents)
	mux.HandleFunc("GET /api/swaps/{id}/steps/{index}/transaction", handlers.Swaps.GetPendingTransaction)
	mux.HandleFunc("POST /api/swaps/{id}/steps/{index}/execute", handlers.Swaps.ExecuteStep)
	mux.HandleFunc("GET /api/users/{address}/swaps", handlers.Swaps.ListUserSwaps)

	// Trigger condition endpoints.
	mux.HandleFunc("POST /api/triggers", handlers.Triggers.CreateTrigger)
	mux.HandleFunc("GET /api/triggers/{id}", handlers.Triggers.GetTrigger)
	mux.HandleFunc("DELETE /api/triggers/{id}", handlers.Triggers.CancelTrigger)
	mux.HandleFunc("GET /api/users/{address}/triggers", handlers.Triggers.ListUserTriggers)

	// Price endpoints.
	mux.HandleFunc("GET /api/prices", handlers.Prices.ListPrices)
	mux.HandleFunc("GET /api/prices/{token}", handlers.Prices.GetPrice)

	// Prometheus scrape endpoint.
	if cfg.Metrics {
		mux.Handle("GET /metrics", observability.Handler())
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second)(h)
	}

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
