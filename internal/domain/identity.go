package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// TaskType is the closed set of study task kinds.
type TaskType string

const (
	TaskTypeProduct TaskType = "product"
	TaskTypeInfo    TaskType = "info"
)

// Wire returns the backend enum value (PRODUCT or INFO).
func (t TaskType) Wire() string {
	return strings.ToUpper(string(t))
}

// TaskTypeFromWire parses a backend enum value. Unknown values map to info.
func TaskTypeFromWire(s string) TaskType {
	if strings.EqualFold(s, string(TaskTypeProduct)) {
		return TaskTypeProduct
	}
	return TaskTypeInfo
}

// Identity is the resolved identity of the navigation context a session belongs to.
type Identity struct {
	ParticipantID  string
	RunID          string
	Topic          string
	TreatmentGroup string
	TaskType       TaskType
	// Page is the results page number from the path, 0 when there is none.
	Page int
}

// TaskID returns the composite key runID_participantID_topic_treatmentGroup.
func (i Identity) TaskID() string {
	return fmt.Sprintf("%s_%s_%s_%s", i.RunID, i.ParticipantID, i.Topic, i.TreatmentGroup)
}

// SameSession reports whether both identities share the immutable session tuple.
// Task type follows from topic and page is not part of the tuple.
func (i Identity) SameSession(other Identity) bool {
	return i.RunID == other.RunID &&
		i.ParticipantID == other.ParticipantID &&
		i.Topic == other.Topic &&
		i.TreatmentGroup == other.TreatmentGroup
}

// Navigation is the page context a tracker call was made from.
type Navigation struct {
	// ClientID names the browser context whose local state is used.
	ClientID string
	Path     string
	Query    url.Values
}

// NavigationFromURL builds a Navigation from a page URL (absolute or path-only).
func NavigationFromURL(clientID, rawURL string) (Navigation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Navigation{}, fmt.Errorf("parse page url: %w", err)
	}
	return Navigation{ClientID: clientID, Path: u.Path, Query: u.Query()}, nil
}

// Param returns the trimmed query parameter value, or "".
func (n Navigation) Param(name string) string {
	if n.Query == nil {
		return ""
	}
	return strings.TrimSpace(n.Query.Get(name))
}
