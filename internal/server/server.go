// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/server/handler"
	"github.com/alanyoungcy/polybet/internal/server/middleware"
	"github.com/alanyoungcy/polybet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route but /health and /metrics; empty disables auth.
	APIKey string
	// RateLimit is requests per RateWindow per client; zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Protocol *handler.ProtocolHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
	// Jobs is set when the scheduler runs in this process.
	Jobs *handler.JobsHandler
}

// Deps are the optional collaborators of the server.
type Deps struct {
	Hub      *ws.Hub
	Metrics  http.Handler
	Recorder middleware.HTTPRecorder
	Limiter  domain.RateLimiter
}

// Server is the HTTP API of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, h, deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health.HealthCheck)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("GET /api/protocol", h.Protocol.Get)
	mux.HandleFunc("POST /api/protocol", h.Protocol.Init)
	mux.HandleFunc("PATCH /api/protocol", h.Protocol.Update)
	mux.HandleFunc("POST /api/protocol/treasury/sweep", h.Protocol.SweepTreasury)

	mux.HandleFunc("GET /api/markets", h.Markets.List)
	mux.HandleFunc("POST /api/markets", h.Markets.Create)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.Get)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.Markets.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/attest", h.Markets.Attest)
	mux.HandleFunc("POST /api/markets/{id}/cancel", h.Markets.Cancel)
	mux.HandleFunc("POST /api/markets/{id}/pause", h.Markets.Pause)
	mux.HandleFunc("POST /api/markets/{id}/unpause", h.Markets.Unpause)
	mux.HandleFunc("POST /api/markets/{id}/fees", h.Markets.DistributeFees)
	mux.HandleFunc("POST /api/markets/{id}/sweep", h.Markets.Sweep)
	mux.HandleFunc("GET /api/markets/{id}/votes", h.Markets.Votes)
	mux.HandleFunc("GET /api/markets/{id}/votes/{user}", h.Markets.Vote)
	mux.HandleFunc("GET /api/markets/{id}/quote", h.Markets.Quote)
	mux.HandleFunc("GET /api/markets/{id}/report", h.Markets.Report)

	mux.HandleFunc("POST /api/markets/{id}/bets", h.Bets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/claim", h.Bets.Claim)
	mux.HandleFunc("POST /api/markets/{id}/exit", h.Bets.Exit)
	mux.HandleFunc("GET /api/users/{user}/votes", h.Bets.UserVotes)
	mux.HandleFunc("GET /api/ledger/{account}", h.Bets.Ledger)

	if h.Jobs != nil {
		mux.HandleFunc("GET /api/jobs", h.Jobs.List)
		mux.HandleFunc("POST /api/jobs/{name}", h.Jobs.Trigger)
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var handler http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		handler = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow)(handler)
	}
	handler = middleware.Auth(cfg.APIKey, "/health", "/metrics")(handler)
	handler = middleware.Logging(logger, deps.Recorder)(handler)
	handler = middleware.CORS(middleware.CORSConfig{Origins: cfg.CORSOrigins})(handler)
	return handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
