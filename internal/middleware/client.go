package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Browser context identification.
const (
	ClientHeader = "X-Tracker-Client"
	ClientCookie = "tracker_client"
	ClientKey    = "client_id"

	maxClientIDLength = 128
	clientCookieAge   = 365 * 24 * 60 * 60
)

// ClientID resolves the browser context of a request from the X-Tracker-Client
// header, then the tracker_client cookie. When neither is usable a new id is
// minted and set as a cookie so the profile keeps it.
func ClientID(secureCookie bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := validClientID(c.GetHeader(ClientHeader))
		if id == "" {
			if cookie, err := c.Cookie(ClientCookie); err == nil {
				id = validClientID(cookie)
			}
		}
		if id == "" {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(ClientCookie, id, clientCookieAge, "/", "", secureCookie, true)
		}

		c.Set(ClientKey, id)
		c.Header(ClientHeader, id)
		c.Next()
	}
}

// GetClientID returns the id stored by ClientID.
func GetClientID(c *gin.Context) string {
	return c.GetString(ClientKey)
}

// validClientID keeps ids usable as storage key segments.
func validClientID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxClientIDLength {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return ""
		}
	}
	return id
}
