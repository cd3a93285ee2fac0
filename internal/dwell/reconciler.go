// Package dwell attaches the time spent away from the results page to the click
// that caused the navigation.
package dwell

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/metrics"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/session"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

// Outcome is the result of one reconciliation attempt.
type Outcome string

const (
	// Applied: dwell set on the click still present in the session.
	Applied Outcome = metrics.DwellApplied
	// Restored: the click was gone from the session and was appended with its dwell.
	Restored Outcome = metrics.DwellRestored
	// Duplicate: the click already carries a dwell time.
	Duplicate Outcome = metrics.DwellDuplicate
	NoPending Outcome = metrics.DwellNoPending
	// Busy: another reconciliation for the client is in flight.
	Busy   Outcome = metrics.DwellBusy
	Failed Outcome = metrics.DwellFailed
)

// Sessions is the session store. session.Store implements it.
type Sessions interface {
	Update(
		ctx context.Context,
		nav domain.Navigation,
		fn func(sess *domain.TaskSession, id domain.Identity) error,
	) (*domain.TaskSession, error)
}

// PendingStore holds the click awaiting a dwell time. storage.Repository implements it.
type PendingStore interface {
	LoadPending(ctx context.Context, clientID string) (*domain.PendingNavigation, error)
	ClearPending(ctx context.Context, clientID string) error
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithMetrics counts outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler closes out pending navigations when the participant returns.
type Reconciler struct {
	sessions Sessions
	pending  PendingStore
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]*atomic.Bool
}

// New creates a reconciler.
func New(sessions Sessions, pending PendingStore, log logger.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Reconciler{
		sessions: sessions,
		pending:  pending,
		log:      log,
		now:      time.Now,
		inflight: make(map[string]*atomic.Bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) guard(clientID string) *atomic.Bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.inflight[clientID]
	if !ok {
		g = &atomic.Bool{}
		r.inflight[clientID] = g
	}
	return g
}

// ReconcileReturn records the dwell time of the pending navigation for nav's
// client. Calls that overlap one already running for the same client return
// Busy without doing anything.
func (r *Reconciler) ReconcileReturn(ctx context.Context, nav domain.Navigation) Outcome {
	g := r.guard(nav.ClientID)
	if !g.CompareAndSwap(false, true) {
		r.metrics.RecordDwell(string(Busy))
		return Busy
	}
	defer g.Store(false)

	outcome := r.reconcile(ctx, nav)
	r.metrics.RecordDwell(string(outcome))
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, nav domain.Navigation) Outcome {
	log := r.log.With(logger.String("client_id", nav.ClientID))

	p, err := r.pending.LoadPending(ctx, nav.ClientID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NoPending
	case errors.Is(err, storage.ErrCorrupt):
		log.Warn("Discarding unreadable pending navigation", logger.Error(err))
		r.clear(ctx, log, nav.ClientID)
		return Failed
	case err != nil:
		log.Error("Failed to load pending navigation", logger.Error(err))
		return Failed
	}

	dwell := Seconds(r.now().Sub(p.StartTime))
	log = log.With(logger.String("click_id", p.ClickID))

	outcome := Applied
	_, err = r.sessions.Update(ctx, nav, func(s *domain.TaskSession, _ domain.Identity) error {
		if i := s.ClickAt(p.ClickTime); i >= 0 {
			if s.Clicks[i].DwellTimeSec != nil {
				outcome = Duplicate
				return session.ErrNoChange
			}
			s.Clicks[i].DwellTimeSec = &dwell
			return nil
		}

		// The slot was rolled over or cleared since the click.
		ev := p.Event
		ev.SessionID = s.TaskID
		ev.ClickOrder = s.NextClickOrder()
		ev.DwellTimeSec = &dwell
		s.Clicks = append(s.Clicks, ev)
		outcome = Restored
		return nil
	})
	if err != nil {
		log.Error("Failed to record dwell time", logger.Error(err))
		return Failed
	}

	r.clear(ctx, log, nav.ClientID)
	if outcome == Duplicate {
		log.Debug("Dwell time already recorded")
		return outcome
	}
	log.Info("Dwell time recorded",
		logger.Float64("dwell_time_sec", dwell),
		logger.String("outcome", string(outcome)),
	)
	return outcome
}

func (r *Reconciler) clear(ctx context.Context, log logger.Logger, clientID string) {
	if err := r.pending.ClearPending(ctx, clientID); err != nil {
		log.Warn("Failed to clear pending navigation", logger.Error(err))
	}
}

// Seconds converts d to seconds rounded to one decimal. Negative durations are 0.
func Seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return math.Round(d.Seconds()*10) / 10
}
