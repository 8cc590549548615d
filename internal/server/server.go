// Package server exposes the daemon's control and metrics endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/logging"
	"github.com/nightlight-labs/lullaby/internal/network"
	"github.com/nightlight-labs/lullaby/internal/prefetch"
)

var logger = logging.New("server")

// Network is the coordinator surface the handlers use.
type Network interface {
	State() network.State
	CanPerformNetworkRequest() bool
	CanPerformSync() bool
	EnableOfflineMode() error
	DisableOfflineMode() error
	ToggleOfflineMode() (bool, error)
}

// Cache reports cache statistics.
type Cache interface {
	Stats() []cache.Stats
	Size(cats ...cache.Category) int64
}

// Prefetcher controls prefetch runs.
type Prefetcher interface {
	Start(ctx context.Context, dims prefetch.Dimensions, onProgress func(prefetch.Progress), onComplete func(prefetch.Report)) error
	Cancel()
	Running() bool
	Last() prefetch.Report
}

// Config holds the server's collaborators.
type Config struct {
	Network  Network
	Cache    Cache
	Prefetch Prefetcher

	// Dimensions supplies the axes for prefetch runs started over HTTP.
	Dimensions func() prefetch.Dimensions

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// BaseContext outlives single requests; prefetch runs use it.
	BaseContext context.Context
}

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates the server and registers its routes.
func New(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := NewHandler(cfg)

	e.GET("/health", h.Health)
	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics))
	}

	v1 := e.Group("/v1")
	v1.GET("/network", h.NetworkState)
	v1.PUT("/network/offline", h.SetOffline)
	v1.POST("/network/offline/toggle", h.ToggleOffline)
	v1.GET("/cache", h.CacheStats)
	v1.GET("/prefetch", h.PrefetchStatus)
	v1.POST("/prefetch", h.StartPrefetch)
	v1.DELETE("/prefetch", h.CancelPrefetch)

	return &Server{echo: e, handler: h}
}

// Start listens on addr until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start(addr string) error {
	logger.Info("Listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ShutdownTimeout bounds a graceful shutdown.
const ShutdownTimeout = 5 * time.Second
