// Package server hosts the HTTP + WebSocket API for the escrow listing
// service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/escrowd/internal/server/handler"
	"github.com/alanyoungcy/escrowd/internal/server/middleware"
	"github.com/alanyoungcy/escrowd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Registry *handler.RegistryHandler
	Listings *handler.ListingHandler
	Accounts *handler.AccountHandler
	Archive  *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required beyond the shared chain).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Registry endpoints.
	mux.HandleFunc("POST /api/listings", handlers.Registry.CreateListing)
	mux.HandleFunc("GET /api/listings", handlers.Registry.ListListings)
	mux.HandleFunc("GET /api/registry/owner", handlers.Registry.GetOwner)
	mux.HandleFunc("POST /api/registry/transfer-ownership", handlers.Registry.TransferOwnership)

	// Listing lifecycle endpoints.
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.GetListing)
	mux.HandleFunc("GET /api/listings/{id}/events", handlers.Listings.ListingHistory)
	mux.HandleFunc("POST /api/listings/{id}/purchase", handlers.Listings.PurchaseListing)
	mux.HandleFunc("POST /api/listings/{id}/cancel", handlers.Listings.CancelListing)
	mux.HandleFunc("POST /api/listings/{id}/close", handlers.Listings.CloseListing)
	mux.HandleFunc("POST /api/listings/{id}/extend", handlers.Listings.ExtendDeadline)
	mux.HandleFunc("PUT /api/listings/{id}/description", handlers.Listings.UpdateDescription)
	mux.HandleFunc("PUT /api/listings/{id}/image", handlers.Listings.UpdateImage)

	// Ledger account endpoints.
	mux.HandleFunc("GET /api/accounts/{address}/balance", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{address}/deposit", handlers.Accounts.Deposit)

	// Archive endpoints.
	mux.HandleFunc("POST /api/listings/{id}/archive", handlers.Archive.ArchiveListing)
	mux.HandleFunc("POST /api/archive/export", handlers.Archive.ExportAll)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Caller-Address")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
