// Package server sets up the HTTP server, router and route definitions.
//
// This is the composition root: every dependency is built here, once, and
// handed down.
//
//	config → sqlite.DB ─────┬→ GuideService → GuideHandler
//	       → content.Store ─┘
//	       → TokenService, PasswordService → AuthService → AuthHandler
//	                                              ↘ auth.RequireAuth
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/stepguide/internal/auth"
	"github.com/sakif/stepguide/internal/config"
	"github.com/sakif/stepguide/internal/content"
	"github.com/sakif/stepguide/internal/handler"
	"github.com/sakif/stepguide/internal/middleware"
	sqliteRepo "github.com/sakif/stepguide/internal/repository/sqlite"
	"github.com/sakif/stepguide/internal/service"
)

// Server owns the router and the database connection.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB // closed on shutdown
}

// New opens (and migrates) the database, prepares the content root and wires
// every route. cfg must already be validated.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures middleware and routes.
//
// ROUTES:
//
//	GET    /healthz
//	POST   /api/auth/register | /api/auth/token | /api/auth/logout
//	GET    /auth/github/login | /auth/github/callback   (only when configured)
//	GET    /api/me                                      (auth)
//	       /api/guides/...                              (auth)
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs first so Logger can print it; Recoverer sits inside Logger
// so a panic is still logged as a 500.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.RequestSize(s.config.MaxBodyBytes))

	store, err := content.NewStore(s.config.ContentRoot, s.logger)
	if err != nil {
		return fmt.Errorf("preparing content root: %w", err)
	}

	ttl, err := s.config.TokenTTL()
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(s.config.Auth.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	authService := service.NewAuthService(s.db, tokens, auth.NewPasswordService(), s.logger)
	guideService := service.NewGuideService(s.db, store, s.logger)

	var github handler.GitHubLogin
	if s.config.GitHubEnabled() {
		gh := s.config.Auth.GitHub
		github = auth.NewGitHubProvider(gh.ClientID, gh.ClientSecret, s.config.GitHubCallbackURL())
	}

	authHandler := handler.NewAuthHandler(authService, github, handler.CookieSettings{
		MaxAge: tokens.TTL(),
		Secure: s.config.Auth.SecureCookies,
	}, s.logger)
	guideHandler := handler.NewGuideHandler(guideService, s.logger)

	s.router.Get("/healthz", s.handleHealth)

	if github != nil {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/token", authHandler.HandleToken)
		r.Post("/auth/logout", authHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(authService))

			r.Get("/me", authHandler.HandleMe)

			r.Route("/guides", func(r chi.Router) {
				r.Get("/", guideHandler.HandleListMine)
				r.Post("/", guideHandler.HandleCreate)
				r.Get("/public", guideHandler.HandleSearchPublic)
				r.Post("/claim", guideHandler.HandleClaim)
				r.Get("/by-shortcut/{shortcut}", guideHandler.HandleGetByShortcut)

				r.Get("/{id}", guideHandler.HandleGet)
				r.Put("/{id}", guideHandler.HandleUpdate)
				r.Delete("/{id}", guideHandler.HandleDelete)
				r.Post("/{id}/share-token", guideHandler.HandleIssueShareToken)
				r.Delete("/{id}/share-token", guideHandler.HandleRevokeShareToken)
				r.Get("/{id}/steps/{n}/screenshot", guideHandler.HandleScreenshot)
			})
		})
	})

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Guide uploads carry every screenshot in one body.
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("contentRoot", s.config.ContentRoot),
			slog.Bool("githubLogin", s.config.GitHubEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
