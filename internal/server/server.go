// Package server provides the HTTP server and routing for the trade
// approval service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeapproval/internal/di"
	"github.com/aristath/tradeapproval/internal/modules/identity"
	tradehandlers "github.com/aristath/tradeapproval/internal/modules/trades/handlers"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	Container *di.Container // DI container with all services

	// OriginPatterns lists hosts allowed to open the event stream cross-origin
	OriginPatterns []string
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	port           int
	devMode        bool
	originPatterns []string
	container      *di.Container
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		port:           cfg.Port,
		devMode:        cfg.DevMode,
		originPatterns: cfg.OriginPatterns,
		container:      cfg.Container,
	}

	s.systemHandlers = NewSystemHandlers(cfg.Log, cfg.Container)

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures the middleware shared by every route.
// Timeout and compression are applied per group in setupRoutes so the
// event stream can hold its connection open.
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", identity.HeaderUserID},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Long-lived connection, outside the request timeout
	eventsStream := NewEventsStreamHandler(s.container.EventManager.Bus(), s.originPatterns, s.log)
	s.router.Group(func(r chi.Router) {
		r.Use(identity.Middleware(s.container.Directory))
		r.Get("/api/events/ws", eventsStream.ServeHTTP)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !s.devMode {
			r.Use(middleware.Compress(5))
		}

		r.Get("/health", s.handleHealth)

		r.Route("/api/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(identity.Middleware(s.container.Directory))

			tradeHandler := tradehandlers.NewHandler(s.container.TradeService, s.container.Policy, s.log)
			tradeHandler.RegisterRoutes(r)

			usersHandler := identity.NewHandler(s.container.Directory, s.log)
			usersHandler.RegisterRoutes(r)
		})
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
