package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/analytics"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/middleware"
)

// Analytics reads stored sessions. analytics.Service implements it.
type Analytics interface {
	Snapshot(ctx context.Context, clientID string) (*analytics.Snapshot, error)
	Summary(ctx context.Context, clientID string) (analytics.Summary, error)
	Export(ctx context.Context, clientID string) ([]byte, error)
}

// Clearer wipes a client's state. session.Store implements it.
type Clearer interface {
	ClearAll(ctx context.Context, clientID string) error
}

// AnalyticsHandler serves the analytics views and the reset operation.
type AnalyticsHandler struct {
	analytics Analytics
	clearer   Clearer
	logger    logger.Logger
}

// NewAnalyticsHandler creates an AnalyticsHandler.
func NewAnalyticsHandler(a Analytics, clearer Clearer, log logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: a, clearer: clearer, logger: log}
}

// HandleSnapshot returns current, completed and all sessions.
func (h *AnalyticsHandler) HandleSnapshot(c *gin.Context) {
	snap, err := h.analytics.Snapshot(c.Request.Context(), middleware.GetClientID(c))
	if err != nil {
		h.fail(c, "Failed to load analytics snapshot", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// HandleSummary returns aggregate counts.
func (h *AnalyticsHandler) HandleSummary(c *gin.Context) {
	sum, err := h.analytics.Summary(c.Request.Context(), middleware.GetClientID(c))
	if err != nil {
		h.fail(c, "Failed to load analytics summary", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// HandleExport returns the export document as a download.
func (h *AnalyticsHandler) HandleExport(c *gin.Context) {
	data, err := h.analytics.Export(c.Request.Context(), middleware.GetClientID(c))
	if err != nil {
		h.fail(c, "Failed to export analytics", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+analytics.ExportFilename(time.Now())+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

// HandleClear wipes local state and requests a backend bulk delete.
func (h *AnalyticsHandler) HandleClear(c *gin.Context) {
	if err := h.clearer.ClearAll(c.Request.Context(), middleware.GetClientID(c)); err != nil {
		h.fail(c, "Failed to clear analytics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (h *AnalyticsHandler) fail(c *gin.Context, msg string, err error) {
	logger.FromContext(c.Request.Context(), h.logger).Error(msg,
		logger.String("client_id", middleware.GetClientID(c)),
		logger.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
