// Package analytics summarizes the sessions stored for a browser context.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

// Source is the read side of the session repository. storage.Repository implements it.
type Source interface {
	LoadCurrent(ctx context.Context, clientID string) (*domain.TaskSession, error)
	Completed(ctx context.Context, clientID string) ([]domain.TaskSession, error)
	ParticipantID(ctx context.Context, clientID string) (string, error)
}

// Snapshot is everything stored for one client.
type Snapshot struct {
	ParticipantID     string               `json:"participant_id"`
	CurrentSession    *domain.TaskSession  `json:"current_session"`
	CompletedSessions []domain.TaskSession `json:"completed_sessions"`
	AllSessions       []domain.TaskSession `json:"all_sessions"`
}

// ClickSources splits clicks by where the link was shown.
type ClickSources struct {
	Organic  int `json:"organic"`
	Overview int `json:"overview"`
	AIMode   int `json:"ai_mode"`
}

// Summary aggregates a snapshot.
type Summary struct {
	TotalSessions       int          `json:"total_sessions"`
	TotalClicks         int          `json:"total_clicks"`
	AvgClicksPerSession float64      `json:"avg_clicks_per_session"`
	ClicksBySource      ClickSources `json:"clicks_by_source"`
	ParticipantID       string       `json:"participant_id"`
	TotalShowMore       int          `json:"total_show_more"`
	TotalShowAll        int          `json:"total_show_all"`
	AvgDwellTimeSec     float64      `json:"avg_dwell_time_sec"`
	ClicksWithDwell     int          `json:"clicks_with_dwell"`
}

// Export is the downloadable analytics document.
type Export struct {
	ExportedAt time.Time `json:"exported_at"`
	Summary    Summary   `json:"summary"`
	Snapshot
}

// Service reads analytics for clients.
type Service struct {
	source Source
	now    func() time.Time
}

// NewService creates a service.
func NewService(source Source) *Service {
	return &Service{source: source, now: time.Now}
}

// Snapshot returns the current session (nil when none is open) and the
// archived sessions of clientID. All sessions lists completed ones first.
func (s *Service) Snapshot(ctx context.Context, clientID string) (*Snapshot, error) {
	current, err := s.source.LoadCurrent(ctx, clientID)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrCorrupt):
		current = nil
	case err != nil:
		return nil, fmt.Errorf("load current session: %w", err)
	}

	completed, err := s.source.Completed(ctx, clientID)
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return nil, fmt.Errorf("load completed sessions: %w", err)
	}

	participant, err := s.source.ParticipantID(ctx, clientID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load participant id: %w", err)
	}
	if participant == "" && current != nil {
		participant = current.ParticipantID
	}

	all := make([]domain.TaskSession, 0, len(completed)+1)
	all = append(all, completed...)
	if current != nil {
		all = append(all, *current)
	}

	return &Snapshot{
		ParticipantID:     participant,
		CurrentSession:    current,
		CompletedSessions: completed,
		AllSessions:       all,
	}, nil
}

// Summarize aggregates snap. A click restored into a later session after its
// own session was archived is counted once, as the copy carrying the dwell time.
func Summarize(snap *Snapshot) Summary {
	sum := Summary{
		TotalSessions: len(snap.AllSessions),
		ParticipantID: snap.ParticipantID,
	}

	measured := make(map[string]struct{})
	for i := range snap.AllSessions {
		for _, c := range snap.AllSessions[i].Clicks {
			if c.ID != "" && c.DwellTimeSec != nil {
				measured[c.ID] = struct{}{}
			}
		}
	}

	var dwellTotal float64
	for i := range snap.AllSessions {
		sess := &snap.AllSessions[i]
		sum.TotalShowMore += len(sess.ShowMore)
		sum.TotalShowAll += len(sess.ShowAll)

		for _, c := range sess.Clicks {
			if _, dup := measured[c.ID]; dup && c.DwellTimeSec == nil {
				continue
			}
			sum.TotalClicks++
			switch {
			case c.FromOverview:
				sum.ClicksBySource.Overview++
			case c.FromAIMode:
				sum.ClicksBySource.AIMode++
			default:
				sum.ClicksBySource.Organic++
			}
			if c.DwellTimeSec != nil {
				sum.ClicksWithDwell++
				dwellTotal += *c.DwellTimeSec
			}
		}
	}

	if sum.TotalSessions > 0 {
		sum.AvgClicksPerSession = oneDecimal(float64(sum.TotalClicks) / float64(sum.TotalSessions))
	}
	if sum.ClicksWithDwell > 0 {
		sum.AvgDwellTimeSec = oneDecimal(dwellTotal / float64(sum.ClicksWithDwell))
	}
	return sum
}

// Summary returns the aggregate view for clientID.
func (s *Service) Summary(ctx context.Context, clientID string) (Summary, error) {
	snap, err := s.Snapshot(ctx, clientID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(snap), nil
}

// Export returns the indented JSON export document for clientID.
func (s *Service) Export(ctx context.Context, clientID string) ([]byte, error) {
	snap, err := s.Snapshot(ctx, clientID)
	if err != nil {
		return nil, err
	}

	doc := Export{
		ExportedAt: s.now().UTC(),
		Summary:    Summarize(snap),
		Snapshot:   *snap,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// ExportFilename is the download name for an export made at t.
func ExportFilename(t time.Time) string {
	return "analytics-data-" + t.UTC().Format(time.DateOnly) + ".json"
}

func oneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
