// Package handler exposes the tracker over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/middleware"
)

var errMissingPageURL = errors.New("page_url is required")

// pageRequest is the body shared by every tracking and lifecycle call.
type pageRequest struct {
	PageURL string `json:"page_url"`
}

// navigation builds the navigation for the calling browser context, answering
// 400 when the page URL is unusable.
func navigation(c *gin.Context, pageURL string) (domain.Navigation, bool) {
	if pageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingPageURL.Error()})
		return domain.Navigation{}, false
	}

	nav, err := domain.NavigationFromURL(middleware.GetClientID(c), pageURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.Navigation{}, false
	}
	return nav, true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
