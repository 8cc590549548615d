package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/prefetch"
)

// Handler holds the HTTP handlers.
type Handler struct {
	cfg Config
}

// NewHandler creates the handlers.
func NewHandler(cfg Config) *Handler {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Handler{cfg: cfg}
}

type networkResponse struct {
	Connectivity       string `json:"connectivity"`
	Transport          string `json:"transport"`
	OfflineModeEnabled bool   `json:"offline_mode"`
	CanRequest         bool   `json:"can_request"`
	CanSync            bool   `json:"can_sync"`
}

type offlineRequest struct {
	Enabled *bool `json:"enabled"`
}

type categoryStats struct {
	Category    string  `json:"category"`
	DiskBytes   int64   `json:"disk_bytes"`
	DiskItems   int64   `json:"disk_items"`
	MemoryBytes int64   `json:"memory_bytes"`
	MemoryItems int64   `json:"memory_items"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expired     int64   `json:"expired"`
	Promotions  int64   `json:"promotions"`
}

type cacheResponse struct {
	TotalBytes int64           `json:"total_bytes"`
	Categories []categoryStats `json:"categories"`
}

type prefetchResponse struct {
	Running bool            `json:"running"`
	Last    *prefetchReport `json:"last,omitempty"`
}

type prefetchReport struct {
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// NetworkState handles GET /v1/network
func (h *Handler) NetworkState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.networkResponse())
}

// SetOffline handles PUT /v1/network/offline
func (h *Handler) SetOffline(c echo.Context) error {
	var req offlineRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be {\"enabled\": true|false}")
	}

	var err error
	if *req.Enabled {
		err = h.cfg.Network.EnableOfflineMode()
	} else {
		err = h.cfg.Network.DisableOfflineMode()
	}
	if err != nil {
		// The mode changed; only persisting it failed.
		logger.Warn("Could not persist offline mode", "err", err)
	}
	return c.JSON(http.StatusOK, h.networkResponse())
}

// ToggleOffline handles POST /v1/network/offline/toggle
func (h *Handler) ToggleOffline(c echo.Context) error {
	if _, err := h.cfg.Network.ToggleOfflineMode(); err != nil {
		logger.Warn("Could not persist offline mode", "err", err)
	}
	return c.JSON(http.StatusOK, h.networkResponse())
}

// CacheStats handles GET /v1/cache
func (h *Handler) CacheStats(c echo.Context) error {
	resp := cacheResponse{TotalBytes: h.cfg.Cache.Size()}
	for _, s := range h.cfg.Cache.Stats() {
		resp.Categories = append(resp.Categories, categoryStats{
			Category:    string(s.Category),
			DiskBytes:   s.Disk.Size,
			DiskItems:   s.Disk.ItemCount,
			MemoryBytes: s.Memory.Size,
			MemoryItems: s.Memory.ItemCount,
			HitRate:     hitRate(s),
			Evictions:   s.Disk.Evictions,
			Expired:     s.Disk.Expired,
			Promotions:  s.Promotions,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// PrefetchStatus handles GET /v1/prefetch
func (h *Handler) PrefetchStatus(c echo.Context) error {
	resp := prefetchResponse{Running: h.cfg.Prefetch.Running()}
	if last := h.cfg.Prefetch.Last(); last.Status != "" {
		resp.Last = &prefetchReport{
			Status:    string(last.Status),
			Completed: last.Completed,
			Failed:    last.Failed,
			Skipped:   last.Skipped,
			Total:     last.Total,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// StartPrefetch handles POST /v1/prefetch
func (h *Handler) StartPrefetch(c echo.Context) error {
	if h.cfg.Dimensions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "prefetch is not configured")
	}
	err := h.cfg.Prefetch.Start(h.cfg.BaseContext, h.cfg.Dimensions(), nil, nil)
	if errors.Is(err, prefetch.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

// CancelPrefetch handles DELETE /v1/prefetch
func (h *Handler) CancelPrefetch(c echo.Context) error {
	h.cfg.Prefetch.Cancel()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *Handler) networkResponse() networkResponse {
	s := h.cfg.Network.State()
	return networkResponse{
		Connectivity:       string(s.Connectivity),
		Transport:          string(s.Transport),
		OfflineModeEnabled: s.OfflineModeEnabled,
		CanRequest:         h.cfg.Network.CanPerformNetworkRequest(),
		CanSync:            h.cfg.Network.CanPerformSync(),
	}
}

// hitRate treats a read as one lookup: disk hits and misses only count
// reads the memory tier missed.
func hitRate(s cache.Stats) float64 {
	hits := s.Memory.Hits + s.Disk.Hits
	total := hits + s.Disk.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
