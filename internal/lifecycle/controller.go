// Package lifecycle reacts to page lifecycle signals from the results page.
package lifecycle

import (
	"context"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/dwell"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/session"
)

// Sessions is the session store. session.Store implements it.
type Sessions interface {
	Current(ctx context.Context, nav domain.Navigation) *domain.TaskSession
	FinalizeCurrent(ctx context.Context, clientID string) bool
	State(ctx context.Context, clientID string) session.State
}

// Reconciler records dwell time on return. dwell.Reconciler implements it.
type Reconciler interface {
	ReconcileReturn(ctx context.Context, nav domain.Navigation) dwell.Outcome
}

// LoadResult describes the session after a page load.
type LoadResult struct {
	TaskID   string        `json:"task_id"`
	TaskType string        `json:"task_type"`
	State    session.State `json:"state"`
	Dwell    dwell.Outcome `json:"dwell"`
}

// Controller drives the NoSession, Active, Finalizing cycle of each client's slot.
type Controller struct {
	sessions Sessions
	dwell    Reconciler
	log      logger.Logger
}

// New creates a controller.
func New(sessions Sessions, reconciler Reconciler, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{sessions: sessions, dwell: reconciler, log: log}
}

// Load makes sure a session exists for the page, rolling over a stale one,
// then reconciles a pending navigation.
func (c *Controller) Load(ctx context.Context, nav domain.Navigation) LoadResult {
	s := c.sessions.Current(ctx, nav)
	outcome := c.dwell.ReconcileReturn(ctx, nav)

	return LoadResult{
		TaskID:   s.TaskID,
		TaskType: s.TaskType.Wire(),
		State:    c.sessions.State(ctx, nav.ClientID),
		Dwell:    outcome,
	}
}

// Visible reconciles a pending navigation whatever the slot state.
func (c *Controller) Visible(ctx context.Context, nav domain.Navigation) dwell.Outcome {
	return c.dwell.ReconcileReturn(ctx, nav)
}

// Unload finalizes the open session. It reports whether there was one.
func (c *Controller) Unload(ctx context.Context, nav domain.Navigation) bool {
	return c.finish(ctx, nav, "unload")
}

// NavigateAway finalizes the open session on an explicit navigation away.
func (c *Controller) NavigateAway(ctx context.Context, nav domain.Navigation) bool {
	return c.finish(ctx, nav, "navigate_away")
}

// State returns the slot state of clientID.
func (c *Controller) State(ctx context.Context, clientID string) session.State {
	return c.sessions.State(ctx, clientID)
}

func (c *Controller) finish(ctx context.Context, nav domain.Navigation, trigger string) bool {
	finalized := c.sessions.FinalizeCurrent(ctx, nav.ClientID)
	c.log.Debug("Page lifecycle end",
		logger.String("client_id", nav.ClientID),
		logger.String("trigger", trigger),
		logger.Bool("finalized", finalized),
	)
	return finalized
}
