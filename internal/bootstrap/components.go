package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/analytics"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/api"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/config"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/dwell"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/handler"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/identity"
	infralogger "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/metrics"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/recorder"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/remote"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/session"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/syncqueue"
)

// Components is the wired tracking core.
type Components struct {
	Repository *storage.Repository
	Remote     *remote.Client
	Queue      *syncqueue.Queue
	Sessions   *session.Store
	Recorder   *recorder.Recorder
	Dwell      *dwell.Reconciler
	Lifecycle  *lifecycle.Controller
	Analytics  *analytics.Service
	Metrics    *metrics.Metrics
}

// NewComponents wires the core over adapter. reg receives the metrics; nil
// uses the default registry.
func NewComponents(
	cfg *config.Config,
	adapter storage.Adapter,
	reg *prometheus.Registry,
	log infralogger.Logger,
) *Components {
	m := metrics.New(reg)
	repo := storage.NewRepository(adapter, cfg.Storage.CompletedMax)

	client := remote.NewClient(remote.Config{
		BaseURL:         cfg.Backend.BaseURL,
		Timeout:         cfg.Backend.Timeout,
		InitialBackoff:  cfg.Backend.InitialBackoff,
		MaxBackoff:      cfg.Backend.MaxBackoff,
		BreakerFailures: cfg.Backend.BreakerFailures,
		BreakerTimeout:  cfg.Backend.BreakerTimeout,
	}, log.With(infralogger.String("component", "remote")), remote.WithMetrics(m))

	queue := syncqueue.New(client, syncqueue.Config{
		QueueSize:      cfg.Sync.QueueSize,
		Workers:        cfg.Sync.Workers,
		MaxRetries:     cfg.Backend.MaxRetries,
		ResyncInterval: cfg.Sync.ResyncInterval,
	}, log.With(infralogger.String("component", "syncqueue")), m)

	resolver := identity.NewResolver(repo, identity.Config{
		DefaultParticipantID: cfg.Identity.DefaultParticipantID,
		DefaultRunID:         cfg.Identity.DefaultRunID,
		ProductTopics:        cfg.Identity.ProductTopics,
	}, log)

	sessions := session.New(repo, resolver, queue, log.With(infralogger.String("component", "session")),
		session.WithMetrics(m))
	reconciler := dwell.New(sessions, repo, log.With(infralogger.String("component", "dwell")),
		dwell.WithMetrics(m))

	return &Components{
		Repository: repo,
		Remote:     client,
		Queue:      queue,
		Sessions:   sessions,
		Recorder:   recorder.New(sessions, repo, log, recorder.WithMetrics(m)),
		Dwell:      reconciler,
		Lifecycle:  lifecycle.New(sessions, reconciler, log),
		Analytics:  analytics.NewService(repo),
		Metrics:    m,
	}
}

// Start launches the background sync workers.
func (c *Components) Start() {
	c.Queue.Start()
}

// Stop drains the sync queue.
func (c *Components) Stop() {
	c.Queue.Stop()
}

// Handlers returns the HTTP handlers over the core.
func (c *Components) Handlers(log infralogger.Logger) api.Handlers {
	return api.Handlers{
		Track:     handler.NewTrackHandler(c.Recorder, log),
		Lifecycle: handler.NewLifecycleHandler(c.Lifecycle),
		Analytics: handler.NewAnalyticsHandler(c.Analytics, c.Sessions, log),
		Metrics:   c.Metrics.Handler(),
	}
}

// Checks returns the /health probes.
func (c *Components) Checks() api.Checks {
	return api.Checks{Storage: c.Repository, Backend: c.Remote}
}
