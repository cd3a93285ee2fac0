package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/middleware"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/recorder"
)

// Recorder records UI activations. recorder.Recorder implements it.
type Recorder interface {
	RecordClick(ctx context.Context, nav domain.Navigation, link recorder.Link) string
	RecordShowMore(ctx context.Context, nav domain.Navigation, component string)
	RecordShowAll(ctx context.Context, nav domain.Navigation, component string)
}

type clickRequest struct {
	PageURL       string `json:"page_url"`
	ComponentName string `binding:"required" json:"component_name"`
	LinkIndex     int    `binding:"min=0"    json:"link_index"`
	LinkText      string `json:"link_text"`
	LinkURL       string `json:"link_url"`
}

type expansionRequest struct {
	PageURL       string `json:"page_url"`
	ComponentName string `binding:"required" json:"component_name"`
}

// TrackHandler handles link and expansion tracking. Every accepted request
// answers 202; tracking problems never reach the caller.
type TrackHandler struct {
	recorder Recorder
	logger   logger.Logger
}

// NewTrackHandler creates a TrackHandler.
func NewTrackHandler(rec Recorder, log logger.Logger) *TrackHandler {
	return &TrackHandler{recorder: rec, logger: log}
}

// HandleClick records a link activation.
func (h *TrackHandler) HandleClick(c *gin.Context) {
	var req clickRequest
	if !bindJSON(c, &req) {
		return
	}
	nav, ok := navigation(c, req.PageURL)
	if !ok {
		return
	}
	if h.skipBot(c, nav) {
		return
	}

	clickID := h.recorder.RecordClick(c.Request.Context(), nav, recorder.Link{
		ComponentName: req.ComponentName,
		LinkIndex:     req.LinkIndex,
		LinkText:      req.LinkText,
		LinkURL:       req.LinkURL,
	})
	c.JSON(http.StatusAccepted, gin.H{"recorded": clickID != "", "click_id": clickID})
}

// HandleShowMore records a show-more expansion.
func (h *TrackHandler) HandleShowMore(c *gin.Context) {
	h.handleExpansion(c, h.recorder.RecordShowMore)
}

// HandleShowAll records a show-all expansion.
func (h *TrackHandler) HandleShowAll(c *gin.Context) {
	h.handleExpansion(c, h.recorder.RecordShowAll)
}

func (h *TrackHandler) handleExpansion(
	c *gin.Context,
	record func(ctx context.Context, nav domain.Navigation, component string),
) {
	var req expansionRequest
	if !bindJSON(c, &req) {
		return
	}
	nav, ok := navigation(c, req.PageURL)
	if !ok {
		return
	}
	if h.skipBot(c, nav) {
		return
	}

	record(c.Request.Context(), nav, req.ComponentName)
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

func (h *TrackHandler) skipBot(c *gin.Context, nav domain.Navigation) bool {
	if !middleware.IsBot(c) {
		return false
	}
	logger.FromContext(c.Request.Context(), h.logger).Debug("Ignoring bot tracking request",
		logger.String("client_id", nav.ClientID),
		logger.String("path", c.FullPath()),
	)
	c.JSON(http.StatusAccepted, gin.H{"recorded": false})
	return true
}
