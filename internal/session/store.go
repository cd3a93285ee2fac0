// Package session owns the current task session slot of each browser context.
//
// Every read-modify-write of a slot runs under that client's mutex, and every
// change is handed to the background syncer as a snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/metrics"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

// ErrNoChange tells Update that fn left the session untouched and nothing
// should be saved or synced.
var ErrNoChange = errors.New("session unchanged")

// State is the lifecycle state of a client's session slot.
type State string

const (
	StateNoSession  State = "no_session"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
)

// Repository is the slot storage. storage.Repository implements it.
type Repository interface {
	LoadCurrent(ctx context.Context, clientID string) (*domain.TaskSession, error)
	SaveCurrent(ctx context.Context, clientID string, s *domain.TaskSession) error
	ClearCurrent(ctx context.Context, clientID string) error
	AppendCompleted(ctx context.Context, clientID string, s *domain.TaskSession) error
	ClearClient(ctx context.Context, clientID string) error
}

// Resolver resolves the identity of a navigation. identity.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, nav domain.Navigation) domain.Identity
}

// Syncer pushes snapshots to the backend without blocking. syncqueue.Queue implements it.
type Syncer interface {
	EnqueueSave(s *domain.TaskSession) bool
	EnqueueDeleteAll() bool
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records session counts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

type client struct {
	mu    sync.Mutex
	state atomic.Value // State
}

// Store is the single writer of every client's current session slot.
type Store struct {
	repo     Repository
	resolver Resolver
	syncer   Syncer
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

// New creates a store.
func New(repo Repository, resolver Resolver, syncer Syncer, log logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{
		repo:     repo,
		resolver: resolver,
		syncer:   syncer,
		log:      log,
		now:      time.Now,
		clients:  make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) client(clientID string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		c = &client{}
		s.clients[clientID] = c
	}
	return c
}

// Current returns the open session for nav, creating one when the slot is
// empty or corrupt and rolling over when the identity tuple changed. When the
// slot cannot be read the returned session is a blank one that is neither
// stored nor synced.
func (s *Store) Current(ctx context.Context, nav domain.Navigation) *domain.TaskSession {
	ctx = context.WithoutCancel(ctx)
	c := s.client(nav.ClientID)
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, id, err := s.current(ctx, c, nav)
	if err != nil {
		return domain.NewTaskSession(id, s.now())
	}
	return cur.Clone()
}

// Create replaces whatever is in the slot with a fresh session for id.
func (s *Store) Create(ctx context.Context, clientID string, id domain.Identity) *domain.TaskSession {
	ctx = context.WithoutCancel(ctx)
	c := s.client(clientID)
	c.mu.Lock()
	defer c.mu.Unlock()

	return s.create(ctx, c, clientID, id).Clone()
}

// Finalize stamps the end time, queues the final sync, archives the session
// and clears the slot. An already finalized session is left alone.
func (s *Store) Finalize(ctx context.Context, clientID string, sess *domain.TaskSession) {
	ctx = context.WithoutCancel(ctx)
	c := s.client(clientID)
	c.mu.Lock()
	defer c.mu.Unlock()

	s.finalize(ctx, c, clientID, sess)
}

// FinalizeCurrent finalizes the open session, if any. It never creates one.
func (s *Store) FinalizeCurrent(ctx context.Context, clientID string) bool {
	ctx = context.WithoutCancel(ctx)
	c := s.client(clientID)
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := s.repo.LoadCurrent(ctx, clientID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.state.Store(StateNoSession)
		return false
	case errors.Is(err, storage.ErrCorrupt):
		s.discard(ctx, clientID, err)
		c.state.Store(StateNoSession)
		return false
	case err != nil:
		s.log.Error("Failed to load current session",
			logger.String("client_id", clientID),
			logger.Error(err),
		)
		return false
	}
	return s.finalize(ctx, c, clientID, cur)
}

// Update runs fn on the open session for nav under the client lock, then saves
// the result and queues a sync. When fn returns ErrNoChange nothing is written
// and Update returns nil. Any other error from fn is returned unchanged. When
// the slot cannot be read, fn is not run and the slot is left as it is.
func (s *Store) Update(
	ctx context.Context,
	nav domain.Navigation,
	fn func(sess *domain.TaskSession, id domain.Identity) error,
) (*domain.TaskSession, error) {
	ctx = context.WithoutCancel(ctx)
	c := s.client(nav.ClientID)
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, id, err := s.current(ctx, c, nav)
	if err != nil {
		return nil, err
	}
	if err := fn(cur, id); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}

	s.persist(ctx, nav.ClientID, cur)
	return cur.Clone(), nil
}

// ClearAll wipes the client's local state and requests a backend bulk delete.
func (s *Store) ClearAll(ctx context.Context, clientID string) error {
	ctx = context.WithoutCancel(ctx)
	c := s.client(clientID)
	c.mu.Lock()
	defer c.mu.Unlock()

	err := s.repo.ClearClient(ctx, clientID)
	c.state.Store(StateNoSession)
	if !s.syncer.EnqueueDeleteAll() {
		s.log.Warn("Backend delete-all not queued", logger.String("client_id", clientID))
	}
	if err != nil {
		s.log.Error("Failed to clear local tracker state",
			logger.String("client_id", clientID),
			logger.Error(err),
		)
		return err
	}
	s.log.Info("Cleared tracker state", logger.String("client_id", clientID))
	return nil
}

// State returns the slot state for clientID.
func (s *Store) State(ctx context.Context, clientID string) State {
	c := s.client(clientID)
	if st, ok := c.state.Load().(State); ok {
		return st
	}

	// Nothing observed since start; the slot may still hold a session.
	if _, err := s.repo.LoadCurrent(ctx, clientID); err == nil {
		return StateActive
	}
	return StateNoSession
}

// current loads the open session, replacing it when the slot is empty, corrupt,
// finalized or holds another identity. A failed read is returned as an error so
// a stored session is never overwritten by a blank one.
func (s *Store) current(
	ctx context.Context,
	c *client,
	nav domain.Navigation,
) (*domain.TaskSession, domain.Identity, error) {
	id := s.resolver.Resolve(ctx, nav)

	cur, err := s.repo.LoadCurrent(ctx, nav.ClientID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.create(ctx, c, nav.ClientID, id), id, nil
	case errors.Is(err, storage.ErrCorrupt):
		s.discard(ctx, nav.ClientID, err)
		return s.create(ctx, c, nav.ClientID, id), id, nil
	case err != nil:
		s.log.Error("Failed to load current session",
			logger.String("client_id", nav.ClientID),
			logger.Error(err),
		)
		return nil, id, fmt.Errorf("load current session: %w", err)
	case cur.Finalized():
		return s.create(ctx, c, nav.ClientID, id), id, nil
	case !cur.Identity().SameSession(id):
		s.log.Info("Session identity changed, rolling over",
			logger.String("client_id", nav.ClientID),
			logger.String("from_task_id", cur.TaskID),
			logger.String("to_task_id", id.TaskID()),
		)
		s.finalize(ctx, c, nav.ClientID, cur)
		return s.create(ctx, c, nav.ClientID, id), id, nil
	}

	c.state.Store(StateActive)
	return cur, id, nil
}

func (s *Store) create(ctx context.Context, c *client, clientID string, id domain.Identity) *domain.TaskSession {
	sess := domain.NewTaskSession(id, s.now())
	c.state.Store(StateActive)
	s.metrics.RecordSessionCreated()
	s.log.Info("Task session created",
		logger.String("client_id", clientID),
		logger.String("task_id", sess.TaskID),
		logger.String("task_type", string(sess.TaskType)),
	)
	s.persist(ctx, clientID, sess)
	return sess
}

func (s *Store) finalize(ctx context.Context, c *client, clientID string, sess *domain.TaskSession) bool {
	if sess == nil || sess.Finalized() {
		return false
	}

	c.state.Store(StateFinalizing)
	sess.Finalize(s.now())
	s.enqueue(clientID, sess)

	if err := s.repo.AppendCompleted(ctx, clientID, sess); err != nil {
		s.log.Warn("Failed to archive completed session",
			logger.String("client_id", clientID),
			logger.String("task_id", sess.TaskID),
			logger.Error(err),
		)
	}
	if err := s.repo.ClearCurrent(ctx, clientID); err != nil {
		s.log.Error("Failed to clear current session slot",
			logger.String("client_id", clientID),
			logger.Error(err),
		)
	}

	c.state.Store(StateNoSession)
	s.metrics.RecordSessionFinalized()
	s.log.Info("Task session finalized",
		logger.String("client_id", clientID),
		logger.String("task_id", sess.TaskID),
		logger.Int("clicks", len(sess.Clicks)),
	)
	return true
}

// persist writes the slot and queues a sync. A failed local write is logged;
// the snapshot is still sent so the backend copy stays current.
func (s *Store) persist(ctx context.Context, clientID string, sess *domain.TaskSession) {
	if err := s.repo.SaveCurrent(ctx, clientID, sess); err != nil {
		s.log.Error("Failed to save current session",
			logger.String("client_id", clientID),
			logger.String("task_id", sess.TaskID),
			logger.Error(err),
		)
	}
	s.enqueue(clientID, sess)
}

func (s *Store) enqueue(clientID string, sess *domain.TaskSession) {
	if !s.syncer.EnqueueSave(sess.Clone()) {
		s.log.Debug("Session sync deferred",
			logger.String("client_id", clientID),
			logger.String("task_id", sess.TaskID),
		)
	}
}

func (s *Store) discard(ctx context.Context, clientID string, cause error) {
	s.log.Warn("Discarding unreadable current session",
		logger.String("client_id", clientID),
		logger.Error(cause),
	)
	if err := s.repo.ClearCurrent(ctx, clientID); err != nil {
		s.log.Error("Failed to clear current session slot",
			logger.String("client_id", clientID),
			logger.Error(err),
		)
	}
}
