// Package server assembles the HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/openclaw/cortex/ai"
	"github.com/openclaw/cortex/internal/profile"
	"github.com/openclaw/cortex/internal/version"
	"github.com/openclaw/cortex/server/auth"
	"github.com/openclaw/cortex/server/internal/observability"
	"github.com/openclaw/cortex/server/middleware"
	"github.com/openclaw/cortex/server/retrieval"
	apiv1 "github.com/openclaw/cortex/server/router/api/v1"
	"github.com/openclaw/cortex/server/service/memorysvc"
	"github.com/openclaw/cortex/store"
	"github.com/openclaw/cortex/vector"
)

// Server is the main HTTP server.
type Server struct {
	e       *echo.Echo
	profile *profile.Profile
	store   *store.Store
	logger  *slog.Logger

	Engine        *retrieval.Engine
	MemoryService *memorysvc.Service
}

// NewServer wires all dependencies and mounts the routes. The vector
// index may be nil when provisioning failed; the server then serves
// lexical retrieval only.
func NewServer(ctx context.Context, p *profile.Profile, s *store.Store, index vector.Index, embedder ai.EmbeddingService, logger *slog.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := observability.NewMetrics()
	engine := retrieval.NewEngine(s, index, embedder, metrics, logger)
	memoryService := memorysvc.NewService(s, index, embedder, engine, metrics, logger)
	authenticator := auth.New(p.TokenSecret)

	server := &Server{
		e:             e,
		profile:       p,
		store:         s,
		logger:        logger,
		Engine:        engine,
		MemoryService: memoryService,
	}

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: allowedOrigins(p),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(requestContextMiddleware(logger))

	e.GET("/healthz", server.healthz)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Only the API surface is rate limited; health and metrics probes
	// are not.
	rootGroup := e.Group("", middleware.NewRateLimiter(10, 20).Middleware())
	apiv1.NewAPIV1Service(memoryService, engine, authenticator, logger).Register(rootGroup)

	return server, nil
}

// Start begins serving. It blocks until the listener fails or is shut down.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	s.logger.InfoContext(ctx, "server started", slog.String("address", address), slog.String("mode", s.profile.Mode), slog.String("version", s.profile.Version))
	if err := s.e.Start(address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to shut down server", slog.Any("error", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.ErrorContext(ctx, "failed to close store", slog.Any("error", err))
	}
	s.logger.InfoContext(ctx, "server stopped")
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"version":   version.GetCurrentVersion(s.profile.Mode),
	})
}

func allowedOrigins(p *profile.Profile) []string {
	if p.AllowedOrigins == "" {
		return []string{"*"}
	}
	origins := strings.Split(p.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func requestContextMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			operation := c.Request().Method + " " + c.Path()
			ctx := observability.NewRequestContext(c.Request().Context(), operation)
			c.SetRequest(c.Request().WithContext(ctx))
			err := next(c)
			logger.DebugContext(ctx, "request completed", append(observability.LogAttrs(c.Request().Context()),
				slog.Int("status", c.Response().Status),
				slog.Int64("elapsed_ms", observability.Elapsed(c.Request().Context())))...)
			return err
		}
	}
}
