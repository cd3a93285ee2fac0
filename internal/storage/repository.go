package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
)

const (
	keyPrefix       = "tracker:"
	keyCurrent      = "current_session"
	keyPending      = "pending_navigation"
	keyParticipant  = "participant_id"
	keyRunID        = "sid"
	keyCompleted    = "completed_sessions"
	defaultKeepDone = 50
)

// Repository is the typed view of one adapter, namespaced per client id.
type Repository struct {
	adapter      Adapter
	completedMax int
}

// NewRepository creates a repository. completedMax bounds the completed-session
// archive per client; 0 uses the default.
func NewRepository(adapter Adapter, completedMax int) *Repository {
	if completedMax <= 0 {
		completedMax = defaultKeepDone
	}
	return &Repository{adapter: adapter, completedMax: completedMax}
}

// Adapter returns the underlying adapter.
func (r *Repository) Adapter() Adapter {
	return r.adapter
}

func clientKey(clientID, name string) string {
	return keyPrefix + clientID + ":" + name
}

// LoadCurrent returns the open session slot. It returns ErrNotFound when the slot
// is empty and an error wrapping ErrCorrupt when it holds malformed data.
func (r *Repository) LoadCurrent(ctx context.Context, clientID string) (*domain.TaskSession, error) {
	var s domain.TaskSession
	if err := r.getJSON(ctx, clientKey(clientID, keyCurrent), &s); err != nil {
		return nil, err
	}
	if s.TaskID == "" {
		return nil, fmt.Errorf("current session without task id: %w", ErrCorrupt)
	}
	s.Normalize()
	return &s, nil
}

// SaveCurrent writes the open session slot.
func (r *Repository) SaveCurrent(ctx context.Context, clientID string, s *domain.TaskSession) error {
	return r.setJSON(ctx, clientKey(clientID, keyCurrent), s)
}

// ClearCurrent empties the open session slot.
func (r *Repository) ClearCurrent(ctx context.Context, clientID string) error {
	return r.adapter.Delete(ctx, clientKey(clientID, keyCurrent))
}

// LoadPending returns the pending navigation, or ErrNotFound.
func (r *Repository) LoadPending(ctx context.Context, clientID string) (*domain.PendingNavigation, error) {
	var p domain.PendingNavigation
	if err := r.getJSON(ctx, clientKey(clientID, keyPending), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePending replaces the pending navigation.
func (r *Repository) SavePending(ctx context.Context, clientID string, p *domain.PendingNavigation) error {
	return r.setJSON(ctx, clientKey(clientID, keyPending), p)
}

// ClearPending removes the pending navigation.
func (r *Repository) ClearPending(ctx context.Context, clientID string) error {
	return r.adapter.Delete(ctx, clientKey(clientID, keyPending))
}

// ParticipantID returns the persisted participant id, or ErrNotFound.
func (r *Repository) ParticipantID(ctx context.Context, clientID string) (string, error) {
	return r.adapter.Get(ctx, clientKey(clientID, keyParticipant))
}

// SetParticipantID persists the participant id.
func (r *Repository) SetParticipantID(ctx context.Context, clientID, id string) error {
	return r.adapter.Set(ctx, clientKey(clientID, keyParticipant), id)
}

// RunID returns the persisted run id, or ErrNotFound.
func (r *Repository) RunID(ctx context.Context, clientID string) (string, error) {
	return r.adapter.Get(ctx, clientKey(clientID, keyRunID))
}

// SetRunID persists the run id.
func (r *Repository) SetRunID(ctx context.Context, clientID, id string) error {
	return r.adapter.Set(ctx, clientKey(clientID, keyRunID), id)
}

// AppendCompleted archives a finalized session, keeping the newest completedMax.
// A corrupt archive is replaced.
func (r *Repository) AppendCompleted(ctx context.Context, clientID string, s *domain.TaskSession) error {
	done, err := r.Completed(ctx, clientID)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}

	done = append(done, *s)
	if len(done) > r.completedMax {
		done = done[len(done)-r.completedMax:]
	}
	return r.setJSON(ctx, clientKey(clientID, keyCompleted), done)
}

// Completed returns archived sessions, oldest first. An empty archive is not an error.
func (r *Repository) Completed(ctx context.Context, clientID string) ([]domain.TaskSession, error) {
	var done []domain.TaskSession
	err := r.getJSON(ctx, clientKey(clientID, keyCompleted), &done)
	if errors.Is(err, ErrNotFound) {
		return []domain.TaskSession{}, nil
	}
	if err != nil {
		return []domain.TaskSession{}, err
	}
	for i := range done {
		done[i].Normalize()
	}
	return done, nil
}

// ClearClient removes every key stored for clientID.
func (r *Repository) ClearClient(ctx context.Context, clientID string) error {
	return r.adapter.DeletePrefix(ctx, keyPrefix+clientID+":")
}

// Ping checks the adapter.
func (r *Repository) Ping(ctx context.Context) error {
	return r.adapter.Ping(ctx)
}

func (r *Repository) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.adapter.Get(ctx, key)
	if err != nil {
		return err
	}
	if err = json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w: %w", key, ErrCorrupt, err)
	}
	return nil
}

func (r *Repository) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.adapter.Set(ctx, key, string(data))
}
