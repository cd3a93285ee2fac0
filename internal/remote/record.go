package remote

import (
	"time"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
)

// TaskRecord is the backend's representation of a task session.
type TaskRecord struct {
	ID                   *int64               `json:"id,omitempty"`
	SID                  string               `json:"sid"`
	ParticipantID        string               `json:"participantId"`
	TreatmentGroup       string               `json:"treatmentGroup"`
	TaskTopic            string               `json:"taskTopic"`
	TaskID               string               `json:"taskId"`
	TaskType             string               `json:"taskType"`
	TaskStartTime        time.Time            `json:"taskStartTime"`
	TaskEndTime          *time.Time           `json:"taskEndTime,omitempty"`
	ClickSequence        []domain.ClickEvent  `json:"clickSequence"`
	ShowMoreInteractions []domain.Interaction `json:"showMoreInteractions"`
	ShowAllInteractions  []domain.Interaction `json:"showAllInteractions"`
}

// ToRecord maps a session to the wire shape. The record has no id.
func ToRecord(s *domain.TaskSession) TaskRecord {
	rec := TaskRecord{
		SID:                  s.RunID,
		ParticipantID:        s.ParticipantID,
		TreatmentGroup:       s.TreatmentGroup,
		TaskTopic:            s.Topic,
		TaskID:               s.TaskID,
		TaskType:             s.TaskType.Wire(),
		TaskStartTime:        s.StartTime,
		TaskEndTime:          s.EndTime,
		ClickSequence:        s.Clicks,
		ShowMoreInteractions: s.ShowMore,
		ShowAllInteractions:  s.ShowAll,
	}
	if rec.TaskID == "" {
		rec.TaskID = s.Identity().TaskID()
	}
	if rec.ClickSequence == nil {
		rec.ClickSequence = []domain.ClickEvent{}
	}
	if rec.ShowMoreInteractions == nil {
		rec.ShowMoreInteractions = []domain.Interaction{}
	}
	if rec.ShowAllInteractions == nil {
		rec.ShowAllInteractions = []domain.Interaction{}
	}
	return rec
}

// FromRecord maps a wire record back to a session. Per-page counters are not
// part of the wire shape and come back empty.
func FromRecord(rec TaskRecord) *domain.TaskSession {
	s := &domain.TaskSession{
		TaskID:         rec.TaskID,
		ParticipantID:  rec.ParticipantID,
		RunID:          rec.SID,
		TreatmentGroup: rec.TreatmentGroup,
		Topic:          rec.TaskTopic,
		TaskType:       domain.TaskTypeFromWire(rec.TaskType),
		StartTime:      rec.TaskStartTime,
		EndTime:        rec.TaskEndTime,
		Clicks:         rec.ClickSequence,
		ShowMore:       rec.ShowMoreInteractions,
		ShowAll:        rec.ShowAllInteractions,
	}
	s.Normalize()
	return s
}
