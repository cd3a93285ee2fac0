// Package metrics exports the tracker's Prometheus metrics.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serp_tracker"

// Interaction kinds.
const (
	KindClick    = "click"
	KindShowMore = "show_more"
	KindShowAll  = "show_all"
)

// Dwell reconciliation outcomes.
const (
	DwellApplied   = "applied"
	DwellRestored  = "restored"
	DwellDuplicate = "duplicate"
	DwellNoPending = "no_pending"
	DwellBusy      = "busy"
	DwellFailed    = "failed"
)

// Sync outcomes.
const (
	SyncCreated = "created"
	SyncUpdated = "updated"
	SyncFailed  = "failed"
)

// Metrics holds the tracker collectors.
type Metrics struct {
	Interactions      *prometheus.CounterVec
	Dwell             *prometheus.CounterVec
	SessionsCreated   prometheus.Counter
	SessionsFinalized prometheus.Counter
	SyncAttempts      *prometheus.CounterVec
	QueueDropped      prometheus.Counter
	QueueDepth        prometheus.Gauge
	Unsynced          prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Passing nil uses the default registry.
func New(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		Interactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_recorded_total",
			Help:      "Tracked interactions appended to sessions, by kind",
		}, []string{"kind"}),
		Dwell: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dwell_reconciliations_total",
			Help:      "Dwell-time reconciliation calls, by outcome",
		}, []string{"outcome"}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Task sessions created",
		}),
		SessionsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Task sessions finalized",
		}),
		SyncAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Backend save attempts, by outcome",
		}, []string{"outcome"}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_queue_dropped_total",
			Help:      "Sync jobs dropped because the queue was full",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Sync jobs waiting in the queue",
		}),
		Unsynced: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unsynced_sessions",
			Help:      "Sessions whose latest snapshot has not reached the backend",
		}),
		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordInteraction(kind string) {
	if m == nil {
		return
	}
	m.Interactions.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordDwell(outcome string) {
	if m == nil {
		return
	}
	m.Dwell.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) RecordSessionFinalized() {
	if m == nil {
		return
	}
	m.SessionsFinalized.Inc()
}

func (m *Metrics) RecordSync(outcome string) {
	if m == nil {
		return
	}
	m.SyncAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetUnsynced(n int) {
	if m == nil {
		return
	}
	m.Unsynced.Set(float64(n))
}
