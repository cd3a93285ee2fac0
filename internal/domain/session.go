package domain

import "time"

// TaskSession is one participant's measurement unit for a topic and treatment group.
type TaskSession struct {
	TaskID         string        `json:"task_id"`
	ParticipantID  string        `json:"participant_id"`
	RunID          string        `json:"sid"`
	TreatmentGroup string        `json:"treatment_group"`
	Topic          string        `json:"topic"`
	TaskType       TaskType      `json:"task_type"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        *time.Time    `json:"end_time"`
	Clicks         []ClickEvent  `json:"click_sequence"`
	ShowMore       []Interaction `json:"show_more_interactions"`
	ShowAll        []Interaction `json:"show_all_interactions"`
	// PageClickCounts counts organic clicks per results page.
	PageClickCounts map[int]int `json:"page_click_counts"`
}

// ClickEvent is one activation of a tracked link.
type ClickEvent struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ClickOrder     int       `json:"click_order"`
	PageTitle      string    `json:"page_title"`
	PageID         string    `json:"page_id"`
	IsAd           bool      `json:"is_ad"`
	PositionInSERP int       `json:"position_in_serp"`
	ClickTime      time.Time `json:"click_time"`
	// DwellTimeSec is nil until the participant returns to the page.
	DwellTimeSec *float64 `json:"dwell_time_sec"`
	FromOverview bool     `json:"from_overview"`
	FromAIMode   bool     `json:"from_ai_mode"`
}

// Interaction is a show-more or show-all expansion.
type Interaction struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	ClickOrder    int       `json:"click_order"`
	ComponentName string    `json:"component_name"`
	Timestamp     time.Time `json:"timestamp"`
}

// PendingNavigation marks the click still waiting for a dwell measurement.
type PendingNavigation struct {
	ClickID   string    `json:"click_id"`
	EventID   string    `json:"event_id"`
	StartTime time.Time `json:"start_time"`
	ClickTime time.Time `json:"click_time"`
	// Event is the click as recorded, used when the session it came from is gone.
	Event ClickEvent `json:"event"`
}

// NewTaskSession builds an empty open session for id starting at now.
func NewTaskSession(id Identity, now time.Time) *TaskSession {
	return &TaskSession{
		TaskID:          id.TaskID(),
		ParticipantID:   id.ParticipantID,
		RunID:           id.RunID,
		TreatmentGroup:  id.TreatmentGroup,
		Topic:           id.Topic,
		TaskType:        id.TaskType,
		StartTime:       now,
		Clicks:          []ClickEvent{},
		ShowMore:        []Interaction{},
		ShowAll:         []Interaction{},
		PageClickCounts: map[int]int{},
	}
}

// Identity returns the session tuple. Page is always 0.
func (s *TaskSession) Identity() Identity {
	return Identity{
		ParticipantID:  s.ParticipantID,
		RunID:          s.RunID,
		Topic:          s.Topic,
		TreatmentGroup: s.TreatmentGroup,
		TaskType:       s.TaskType,
	}
}

// NextClickOrder returns 1 + the highest click_order across clicks, show-more
// and show-all interactions.
func (s *TaskSession) NextClickOrder() int {
	highest := 0
	for i := range s.Clicks {
		highest = max(highest, s.Clicks[i].ClickOrder)
	}
	for i := range s.ShowMore {
		highest = max(highest, s.ShowMore[i].ClickOrder)
	}
	for i := range s.ShowAll {
		highest = max(highest, s.ShowAll[i].ClickOrder)
	}
	return highest + 1
}

// Finalized reports whether the session has an end time.
func (s *TaskSession) Finalized() bool {
	return s.EndTime != nil
}

// Finalize stamps the end time, never earlier than the start time.
func (s *TaskSession) Finalize(now time.Time) {
	if now.Before(s.StartTime) {
		now = s.StartTime
	}
	s.EndTime = &now
}

// ClickAt returns the index of the click recorded at t, or -1.
func (s *TaskSession) ClickAt(t time.Time) int {
	for i := range s.Clicks {
		if s.Clicks[i].ClickTime.Equal(t) {
			return i
		}
	}
	return -1
}

// Normalize replaces nil collections left by older or hand-edited records.
func (s *TaskSession) Normalize() {
	if s.Clicks == nil {
		s.Clicks = []ClickEvent{}
	}
	if s.ShowMore == nil {
		s.ShowMore = []Interaction{}
	}
	if s.ShowAll == nil {
		s.ShowAll = []Interaction{}
	}
	if s.PageClickCounts == nil {
		s.PageClickCounts = map[int]int{}
	}
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (s *TaskSession) Clone() *TaskSession {
	c := *s
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	c.Clicks = make([]ClickEvent, len(s.Clicks))
	for i, ev := range s.Clicks {
		if ev.DwellTimeSec != nil {
			d := *ev.DwellTimeSec
			ev.DwellTimeSec = &d
		}
		c.Clicks[i] = ev
	}
	c.ShowMore = append([]Interaction{}, s.ShowMore...)
	c.ShowAll = append([]Interaction{}, s.ShowAll...)
	c.PageClickCounts = make(map[int]int, len(s.PageClickCounts))
	for page, n := range s.PageClickCounts {
		c.PageClickCounts[page] = n
	}
	return &c
}
