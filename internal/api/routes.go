package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/handler"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/middleware"
)

// Handlers groups the HTTP handlers served by the tracker.
type Handlers struct {
	Track     *handler.TrackHandler
	Lifecycle *handler.LifecycleHandler
	Analytics *handler.AnalyticsHandler
	Metrics   http.Handler
}

// RouteConfig holds route-level settings.
type RouteConfig struct {
	MaxEventsPerMinute int
	RateLimitWindow    time.Duration
	SecureCookie       bool
	// ClearEnabled registers the bulk delete of all tracked data.
	ClearEnabled bool
	// Done stops background goroutines started by middleware.
	Done <-chan struct{}
}

// SetupRoutes configures all API routes.
// Health routes are registered by the infrastructure gin builder.
func SetupRoutes(router *gin.Engine, h Handlers, cfg RouteConfig) {
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.ClientID(cfg.SecureCookie))

	// Tracking with bot filter and rate limiting
	track := v1.Group("/track")
	track.Use(middleware.BotFilter())
	track.Use(middleware.RateLimiter(cfg.MaxEventsPerMinute, cfg.RateLimitWindow, cfg.Done))
	track.POST("/click", h.Track.HandleClick)
	track.POST("/show-more", h.Track.HandleShowMore)
	track.POST("/show-all", h.Track.HandleShowAll)

	lc := v1.Group("/lifecycle")
	lc.POST("/load", h.Lifecycle.HandleLoad)
	lc.POST("/visible", h.Lifecycle.HandleVisible)
	lc.POST("/unload", h.Lifecycle.HandleUnload)
	lc.POST("/popstate", h.Lifecycle.HandlePopState)
	lc.GET("/state", h.Lifecycle.HandleState)

	an := v1.Group("/analytics")
	an.GET("", h.Analytics.HandleSnapshot)
	an.GET("/summary", h.Analytics.HandleSummary)
	an.GET("/export", h.Analytics.HandleExport)

	if cfg.ClearEnabled {
		admin := an.Group("")
		admin.Use(middleware.RateLimiter(cfg.MaxEventsPerMinute, cfg.RateLimitWindow, cfg.Done))
		admin.DELETE("", h.Analytics.HandleClear)
	}
}
