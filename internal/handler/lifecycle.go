package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/dwell"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/middleware"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/session"
)

// Lifecycle reacts to page signals. lifecycle.Controller implements it.
type Lifecycle interface {
	Load(ctx context.Context, nav domain.Navigation) lifecycle.LoadResult
	Visible(ctx context.Context, nav domain.Navigation) dwell.Outcome
	Unload(ctx context.Context, nav domain.Navigation) bool
	NavigateAway(ctx context.Context, nav domain.Navigation) bool
	State(ctx context.Context, clientID string) session.State
}

// LifecycleHandler handles page lifecycle signals.
type LifecycleHandler struct {
	lifecycle Lifecycle
}

// NewLifecycleHandler creates a LifecycleHandler.
func NewLifecycleHandler(l Lifecycle) *LifecycleHandler {
	return &LifecycleHandler{lifecycle: l}
}

// HandleLoad initializes the session for a page and reconciles a return.
func (h *LifecycleHandler) HandleLoad(c *gin.Context) {
	nav, ok := h.bind(c)
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, h.lifecycle.Load(c.Request.Context(), nav))
}

// HandleVisible reconciles a return when the page becomes visible.
func (h *LifecycleHandler) HandleVisible(c *gin.Context) {
	nav, ok := h.bind(c)
	if !ok {
		return
	}
	outcome := h.lifecycle.Visible(c.Request.Context(), nav)
	c.JSON(http.StatusAccepted, gin.H{"dwell": outcome})
}

// HandleUnload finalizes the session before the page goes away.
func (h *LifecycleHandler) HandleUnload(c *gin.Context) {
	nav, ok := h.bind(c)
	if !ok {
		return
	}
	finalized := h.lifecycle.Unload(c.Request.Context(), nav)
	c.JSON(http.StatusAccepted, gin.H{"finalized": finalized})
}

// HandlePopState finalizes the session on history navigation away.
func (h *LifecycleHandler) HandlePopState(c *gin.Context) {
	nav, ok := h.bind(c)
	if !ok {
		return
	}
	finalized := h.lifecycle.NavigateAway(c.Request.Context(), nav)
	c.JSON(http.StatusAccepted, gin.H{"finalized": finalized})
}

// HandleState reports the slot state of the calling browser context.
func (h *LifecycleHandler) HandleState(c *gin.Context) {
	clientID := middleware.GetClientID(c)
	c.JSON(http.StatusOK, gin.H{
		"client_id": clientID,
		"state":     h.lifecycle.State(c.Request.Context(), clientID),
	})
}

func (h *LifecycleHandler) bind(c *gin.Context) (domain.Navigation, bool) {
	var req pageRequest
	if !bindJSON(c, &req) {
		return domain.Navigation{}, false
	}
	return navigation(c, req.PageURL)
}
