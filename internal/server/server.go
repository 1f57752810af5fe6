package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/galleria-labs/galleria/internal/server/handler"
	"github.com/galleria-labs/galleria/internal/server/middleware"
	"github.com/galleria-labs/galleria/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimitPerMin int    // if zero, request rate limiting is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Listings    *handler.ListingHandler
	Groups      *handler.GroupHandler
	Settlements *handler.SettlementHandler
	Platform    *handler.PlatformHandler
}

// Server is the headless HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and status (no auth required for health).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Listing endpoints.
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListListings)
	mux.HandleFunc("GET /api/listings/token/{collection}/{token}", handlers.Listings.GetListingByToken)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.GetListing)
	mux.HandleFunc("GET /api/listings/{id}/price", handlers.Listings.GetDutchPrice)
	mux.HandleFunc("POST /api/listings/{id}/bids", handlers.Listings.PlaceBid)
	mux.HandleFunc("POST /api/listings/{id}/end", handlers.Listings.EndListing)
	mux.HandleFunc("POST /api/listings/{id}/claim", handlers.Listings.ClaimToken)
	mux.HandleFunc("POST /api/listings/{id}/resolve", handlers.Listings.ResolveListing)
	mux.HandleFunc("POST /api/listings/{id}/withdraw", handlers.Listings.WithdrawBid)
	mux.HandleFunc("DELETE /api/listings/{id}", handlers.Listings.CancelListing)

	// Group endpoints.
	mux.HandleFunc("POST /api/groups", handlers.Groups.CreateGroup)
	mux.HandleFunc("GET /api/groups", handlers.Groups.ListGroups)
	mux.HandleFunc("GET /api/groups/{address}", handlers.Groups.GetGroup)
	mux.HandleFunc("POST /api/groups/{address}/tokens", handlers.Groups.MintToken)
	mux.HandleFunc("GET /api/groups/{address}/tokens/{index}/metadata", handlers.Groups.GetTokenMetadata)
	mux.HandleFunc("DELETE /api/groups/{address}/tokens/{index}", handlers.Groups.BurnToken)
	mux.HandleFunc("POST /api/groups/{address}/listings", handlers.Groups.CreateListing)
	mux.HandleFunc("DELETE /api/groups/{address}/listings/{id}", handlers.Groups.CancelListing)
	mux.HandleFunc("POST /api/groups/{address}/members", handlers.Groups.AddMember)
	mux.HandleFunc("DELETE /api/groups/{address}/members/{account}", handlers.Groups.RemoveMember)
	mux.HandleFunc("POST /api/groups/{address}/director", handlers.Groups.ProposeDirector)
	mux.HandleFunc("GET /api/groups/{address}/transactions", handlers.Groups.ListTransactions)
	mux.HandleFunc("POST /api/groups/{address}/transactions/{kind}/{txid}/confirm", handlers.Groups.ConfirmTransaction)
	mux.HandleFunc("POST /api/groups/{address}/transactions/{kind}/{txid}/execute", handlers.Groups.ExecuteTransaction)
	mux.HandleFunc("POST /api/groups/{address}/distributions", handlers.Groups.PullDistributions)
	mux.HandleFunc("POST /api/groups/{address}/withdrawals", handlers.Groups.Withdraw)
	mux.HandleFunc("GET /api/groups/{address}/sales", handlers.Groups.ListSales)

	// Platform operator surface.
	mux.HandleFunc("POST /api/platform/withdrawals", handlers.Platform.WithdrawMarketFees)
	mux.HandleFunc("POST /api/platform/factory-withdrawals", handlers.Platform.WithdrawFactoryFees)
	mux.HandleFunc("GET /api/platform/audit", handlers.Platform.ListAuditLog)
	mux.HandleFunc("GET /api/platform/archives", handlers.Platform.ListArchives)

	// Settlement journal.
	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListSettlements)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is wired.
	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

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
