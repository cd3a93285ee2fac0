// Package recorder turns UI activations into session events.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/metrics"
)

// Sessions is the session store. session.Store implements it.
type Sessions interface {
	Update(
		ctx context.Context,
		nav domain.Navigation,
		fn func(sess *domain.TaskSession, id domain.Identity) error,
	) (*domain.TaskSession, error)
}

// PendingStore records the click awaiting a dwell measurement. storage.Repository implements it.
type PendingStore interface {
	SavePending(ctx context.Context, clientID string, p *domain.PendingNavigation) error
}

// Link is one tracked link activation as reported by the UI.
type Link struct {
	ComponentName string
	LinkIndex     int
	LinkText      string
	LinkURL       string
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithMetrics counts recorded interactions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder appends clicks and expansions to the current session. Its methods
// never fail; problems are logged.
type Recorder struct {
	sessions Sessions
	pending  PendingStore
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a recorder.
func New(sessions Sessions, pending PendingStore, log logger.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Recorder{sessions: sessions, pending: pending, log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClickID returns the diagnostic id of a click: taskID_clickOrder.
func ClickID(taskID string, clickOrder int) string {
	return fmt.Sprintf("%s_%d", taskID, clickOrder)
}

// RecordClick appends a click event, bumps the results-page counter for organic
// clicks and marks the click as awaiting its dwell time. It returns the click
// id, or "" when the event could not be recorded.
func (r *Recorder) RecordClick(ctx context.Context, nav domain.Navigation, link Link) string {
	class := domain.Classify(link.ComponentName)
	now := r.now()

	var pending domain.PendingNavigation
	_, err := r.sessions.Update(ctx, nav, func(s *domain.TaskSession, id domain.Identity) error {
		order := s.NextClickOrder()
		ev := domain.ClickEvent{
			ID:             uuid.NewString(),
			SessionID:      s.TaskID,
			ClickOrder:     order,
			PageTitle:      link.LinkText,
			PageID:         class.PageID(link.LinkIndex),
			IsAd:           class.IsAd,
			PositionInSERP: link.LinkIndex + 1,
			ClickTime:      now,
			FromOverview:   class.FromOverview(),
			FromAIMode:     class.FromAIMode(),
		}
		s.Clicks = append(s.Clicks, ev)

		if class.Category == domain.CategoryOrganic && id.Page > 0 {
			s.PageClickCounts[id.Page]++
		}

		pending = domain.PendingNavigation{
			ClickID:   ClickID(s.TaskID, order),
			EventID:   ev.ID,
			StartTime: now,
			ClickTime: now,
			Event:     ev,
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to record click",
			logger.String("client_id", nav.ClientID),
			logger.String("component", link.ComponentName),
			logger.Error(err),
		)
		return ""
	}

	if err = r.pending.SavePending(ctx, nav.ClientID, &pending); err != nil {
		r.log.Warn("Failed to save pending navigation",
			logger.String("client_id", nav.ClientID),
			logger.String("click_id", pending.ClickID),
			logger.Error(err),
		)
	}

	r.metrics.RecordInteraction(metrics.KindClick)
	r.log.Debug("Tracked click",
		logger.String("client_id", nav.ClientID),
		logger.String("click_id", pending.ClickID),
		logger.String("page_id", pending.Event.PageID),
		logger.String("link_url", link.LinkURL),
	)
	return pending.ClickID
}

// RecordShowMore appends a show-more expansion.
func (r *Recorder) RecordShowMore(ctx context.Context, nav domain.Navigation, component string) {
	r.recordExpansion(ctx, nav, component, metrics.KindShowMore)
}

// RecordShowAll appends a show-all expansion.
func (r *Recorder) RecordShowAll(ctx context.Context, nav domain.Navigation, component string) {
	r.recordExpansion(ctx, nav, component, metrics.KindShowAll)
}

func (r *Recorder) recordExpansion(ctx context.Context, nav domain.Navigation, component, kind string) {
	now := r.now()

	var order int
	_, err := r.sessions.Update(ctx, nav, func(s *domain.TaskSession, _ domain.Identity) error {
		order = s.NextClickOrder()
		in := domain.Interaction{
			ID:            uuid.NewString(),
			SessionID:     s.TaskID,
			ClickOrder:    order,
			ComponentName: component,
			Timestamp:     now,
		}
		if kind == metrics.KindShowAll {
			s.ShowAll = append(s.ShowAll, in)
		} else {
			s.ShowMore = append(s.ShowMore, in)
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to record expansion",
			logger.String("client_id", nav.ClientID),
			logger.String("kind", kind),
			logger.String("component", component),
			logger.Error(err),
		)
		return
	}

	r.metrics.RecordInteraction(kind)
	r.log.Debug("Tracked expansion",
		logger.String("client_id", nav.ClientID),
		logger.String("kind", kind),
		logger.String("component", component),
		logger.Int("click_order", order),
	)
}
