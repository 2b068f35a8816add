// Package server sets up the HTTP router and its lifecycle.
//
// It is the wiring layer: it maps URL patterns to handlers and decides
// which middleware runs where. Services arrive fully built from main, so a
// test can stand up the whole router against an in-memory database.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/foxochat/chat-core/internal/auth"
	"github.com/foxochat/chat-core/internal/handler"
	"github.com/foxochat/chat-core/internal/middleware"
	"github.com/foxochat/chat-core/internal/service"
)

// shutdownTimeout is how long in-flight requests get to finish once the
// server is asked to stop.
const shutdownTimeout = 30 * time.Second

type Config struct {
	Port int
}

// Server owns the router. It does not own the database; main closes that
// after Start returns.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

func New(cfg Config, authService *service.AuthService, channelService *service.ChannelService, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(authService, channelService)
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures middleware and routes.
//
//	POST   /auth/register
//	POST   /auth/login
//	POST   /auth/reset-password
//	POST   /auth/reset-password/confirm
//	GET    /verify?code=&token=
//	GET    /users/@me                              (token)
//	POST   /users/@me/email/verify                 (token)
//	POST   /users/@me/email/resend                 (token)
//	POST   /channels                               (token, verified email)
//	GET    /channels/{name}                        (token, verified email)
//	PATCH  /channels/{name}                        (token, verified email)
//	DELETE /channels/{name}                        (token, verified email)
//	PUT    /channels/{name}/members/@me            (token, verified email)
//	DELETE /channels/{name}/members/@me            (token, verified email)
//	GET    /channels/{name}/members                (token, verified email)
//	GET    /channels/{name}/members/{userID}       (token, verified email)
//	PUT    /channels/{name}/members/{userID}/permissions
//
// Middleware order matters: RequestID must run before Logger so every log
// line carries the id.
func (s *Server) setupRoutes(authService *service.AuthService, channelService *service.ChannelService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	authHandler := handler.NewAuthHandler(authService, s.logger)
	channelHandler := handler.NewChannelHandler(channelService, s.logger)

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/reset-password", authHandler.HandleResetPassword)
		r.Post("/reset-password/confirm", authHandler.HandleConfirmResetPassword)
	})

	s.router.Get("/verify", authHandler.HandleVerifyLink)

	// An unverified user can still see themself and finish verification.
	s.router.Route("/users/@me", func(r chi.Router) {
		r.Use(auth.RequireAuth(authService, false, authHandler.Fail))
		r.Get("/", authHandler.HandleMe)
		r.Post("/email/verify", authHandler.HandleConfirmEmail)
		r.Post("/email/resend", authHandler.HandleResendEmail)
	})

	s.router.Route("/channels", func(r chi.Router) {
		r.Use(auth.RequireAuth(authService, true, authHandler.Fail))
		r.Post("/", channelHandler.HandleCreate)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", channelHandler.HandleGet)
			r.Patch("/", channelHandler.HandleEdit)
			r.Delete("/", channelHandler.HandleDelete)
			r.Get("/members", channelHandler.HandleMembers)
			r.Put("/members/@me", channelHandler.HandleJoin)
			r.Delete("/members/@me", channelHandler.HandleLeave)
			r.Get("/members/{userID}", channelHandler.HandleMember)
			r.Put("/members/{userID}/permissions", channelHandler.HandleSetPermissions)
		})
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully, giving
// in-flight requests shutdownTimeout to finish.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
