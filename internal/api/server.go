// Package api assembles the tracker HTTP server.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/config"
	infragin "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	healthCheckTimeout  = 2 * time.Second
)

// Pinger is anything /health can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checks are the dependencies reported by /health. Storage failing makes the
// service unhealthy, the backend only degrades it.
type Checks struct {
	Storage Pinger
	Backend Pinger
}

// NewServer creates a new HTTP server.
func NewServer(
	h Handlers,
	checks Checks,
	cfg *config.Config,
	log infralogger.Logger,
	done <-chan struct{},
) *infragin.Server {
	routeCfg := RouteConfig{
		MaxEventsPerMinute: cfg.RateLimit.MaxEventsPerMinute,
		RateLimitWindow:    time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		SecureCookie:       !cfg.Service.Debug,
		ClearEnabled:       cfg.Admin.ClearEnabled,
		Done:               done,
	}

	b := infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(log).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithCORSOrigins(cfg.Service.CORSOrigins, true).
		WithTimeouts(defaultReadTimeout, defaultWriteTimeout, defaultIdleTimeout).
		WithRoutes(func(router *gin.Engine) {
			SetupRoutes(router, h, routeCfg)
		})

	if checks.Storage != nil {
		b = b.WithHealthCheck("storage", infragin.PingChecker("storage", infragin.HealthStatusUnhealthy, ping(checks.Storage)))
	}
	if checks.Backend != nil {
		b = b.WithHealthCheck("backend", infragin.PingChecker("backend", infragin.HealthStatusDegraded, ping(checks.Backend)))
	}
	return b.Build()
}

func ping(p Pinger) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		defer cancel()
		return p.Ping(ctx)
	}
}
