// Package server exposes the HTTP API: bridge webhooks, authentication,
// user settings, and monitored chat management.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wadigest/internal/config"
	"wadigest/internal/database"
	"wadigest/internal/pipeline"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	engine   *gin.Engine
	srv      *http.Server
	store    database.Store
	pipeline *pipeline.Pipeline
	auth     *authService
	log      *slog.Logger

	adminUserID int64
}

// New builds the HTTP server with all routes registered.
func New(cfg *config.Config, store database.Store, pl *pipeline.Pipeline, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	log := logger.With("component", "http_server")

	s := &Server{
		engine:      engine,
		store:       store,
		pipeline:    pl,
		auth:        newAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		log:         log,
		adminUserID: cfg.Auth.AdminUserID,
	}

	engine.Use(s.requestLogger(), gin.Recovery())
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the root HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server until Shutdown is called. It translates the
// listener close into a nil error so orderly shutdown is not reported as a
// failure.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	hooks := s.engine.Group("/webhook/whatsapp")
	{
		hooks.POST("/message", s.handleWebhookMessage)
		hooks.POST("/connected", s.handleWebhookConnected)
		hooks.POST("/disconnected", s.handleWebhookDisconnected)
		hooks.GET("/active-users", s.handleActiveUsers)
		hooks.GET("/health", s.handleWebhookHealth)
	}

	api := s.engine.Group("/api")
	{
		api.POST("/auth/register", s.handleRegister)
		api.POST("/auth/login", s.handleLogin)

		authed := api.Group("", s.authRequired())
		{
			authed.GET("/users/me", s.handleGetMe)
			authed.PUT("/users/me", s.handleUpdateMe)

			authed.POST("/chats", s.handleSubscribeChat)
			authed.GET("/chats", s.handleListChats)
			authed.DELETE("/chats/:id", s.handleUnsubscribeChat)

			admin := authed.Group("", s.adminRequired())
			{
				admin.GET("/users", s.handleListUsers)
				admin.POST("/users/:id/suspend", s.handleSuspendUser)
				admin.POST("/users/:id/resume", s.handleResumeUser)
			}
		}
	}
}

// requestLogger logs each request with method, path, status, and duration.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.log.Info("Request handled",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.log.ErrorContext(c.Request.Context(), "Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
