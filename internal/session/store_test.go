package session_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/identity"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/session"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

const clientID = "browser-1"

type recordingSyncer struct {
	mu         sync.Mutex
	saves      []*domain.TaskSession
	deleteAlls int
}

func (r *recordingSyncer) EnqueueSave(s *domain.TaskSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, s)
	return true
}

func (r *recordingSyncer) EnqueueDeleteAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteAlls++
	return true
}

func (r *recordingSyncer) last() *domain.TaskSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saves) == 0 {
		return nil
	}
	return r.saves[len(r.saves)-1]
}

type fixture struct {
	store   *session.Store
	repo    *storage.Repository
	adapter *storage.MemoryAdapter
	syncer  *recordingSyncer
	clock   *clock
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyAdapter fails reads of the current session slot while failGets is positive.
type flakyAdapter struct {
	*storage.MemoryAdapter
	failGets atomic.Int32
}

var errStorageDown = errors.New("storage unavailable")

func (f *flakyAdapter) Get(ctx context.Context, key string) (string, error) {
	if strings.HasSuffix(key, ":current_session") && f.failGets.Add(-1) >= 0 {
		return "", errStorageDown
	}
	return f.MemoryAdapter.Get(ctx, key)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, storage.NewMemoryAdapter(), nil)
}

func newFixtureOn(t *testing.T, adapter *storage.MemoryAdapter, wrap storage.Adapter) *fixture {
	t.Helper()

	var backing storage.Adapter = adapter
	if wrap != nil {
		backing = wrap
	}
	repo := storage.NewRepository(backing, 0)
	resolver := identity.NewResolver(repo, identity.Config{
		DefaultParticipantID: "anonymous",
		DefaultRunID:         "default",
		ProductTopics:        []string{"Laptop", "Phone", "Car-vehicle"},
	}, logger.NewNop())
	syncer := &recordingSyncer{}
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	return &fixture{
		store:   session.New(repo, resolver, syncer, logger.NewNop(), session.WithClock(clk.now)),
		repo:    repo,
		adapter: adapter,
		syncer:  syncer,
		clock:   clk,
	}
}

func nav(path string, query url.Values) domain.Navigation {
	return domain.Navigation{ClientID: clientID, Path: path, Query: query}
}

func TestCurrent_CreatesAndReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := nav("/Laptop/middle-ai-overview/have-ai-mode/1", url.Values{"RID": {"P7"}, "SID": {"S1"}})

	first := f.store.Current(ctx, n)
	assert.Equal(t, "S1_P7_Laptop_middle-ai-overview_have-ai-mode", first.TaskID)
	assert.Equal(t, domain.TaskTypeProduct, first.TaskType)
	assert.Nil(t, first.EndTime)
	assert.Equal(t, session.StateActive, f.store.State(ctx, clientID))

	f.clock.advance(time.Second)
	second := f.store.Current(ctx, n)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, first.StartTime, second.StartTime, "same session, not recreated")
	assert.Len(t, f.syncer.saves, 1, "only the create is synced")
}

func TestFinalize_StampsEndAndClearsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := nav("/Laptop/no-ai-overview/no-ai-mode/1", nil)

	sess := f.store.Current(ctx, n)
	f.clock.advance(30 * time.Second)
	f.store.Finalize(ctx, clientID, sess)

	final := f.syncer.last()
	require.NotNil(t, final.EndTime)
	assert.False(t, final.EndTime.Before(final.StartTime))
	assert.Equal(t, session.StateNoSession, f.store.State(ctx, clientID))

	_, err := f.repo.LoadCurrent(ctx, clientID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	done, err := f.repo.Completed(ctx, clientID)
	require.NoError(t, err)
	assert.Len(t, done, 1)

	f.clock.advance(time.Second)
	next := f.store.Current(ctx, n)
	assert.True(t, next.StartTime.After(sess.StartTime), "fresh start time")
	assert.Nil(t, next.EndTime)
}

func TestFinalize_AlreadyFinalizedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.store.Current(ctx, nav("/Phone/a/b", nil))
	f.store.Finalize(ctx, clientID, sess)
	saves := len(f.syncer.saves)

	end := f.clock.now()
	sess.EndTime = &end
	f.store.Finalize(ctx, clientID, sess)
	assert.Len(t, f.syncer.saves, saves)
}

func TestCurrent_RollsOverOnIdentityChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	laptop := f.store.Current(ctx, nav("/Laptop/top-ai-overview/have-ai-mode/1", nil))
	f.clock.advance(time.Minute)
	phone := f.store.Current(ctx, nav("/Phone/top-ai-overview/have-ai-mode/1", nil))

	assert.NotEqual(t, laptop.TaskID, phone.TaskID)

	done, err := f.repo.Completed(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, laptop.TaskID, done[0].TaskID)
	require.NotNil(t, done[0].EndTime, "stale session finalized before replacement")

	var finalLaptop *domain.TaskSession
	for _, s := range f.syncer.saves {
		if s.TaskID == laptop.TaskID && s.EndTime != nil {
			finalLaptop = s
		}
	}
	require.NotNil(t, finalLaptop, "final sync of the stale session was queued")
	assert.False(t, finalLaptop.EndTime.After(phone.StartTime))
}

func TestCurrent_PageChangeKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1 := f.store.Current(ctx, nav("/Laptop/no-ai-overview/no-ai-mode/1", nil))
	p3 := f.store.Current(ctx, nav("/Laptop/no-ai-overview/no-ai-mode/3", nil))
	assert.Equal(t, p1.TaskID, p3.TaskID)
}

func TestCurrent_DiscardsCorruptSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.adapter.Set(ctx, "tracker:"+clientID+":current_session", "{not json"))

	sess := f.store.Current(ctx, nav("/Laptop/a/b", nil))
	assert.Equal(t, "default_anonymous_Laptop_a_b", sess.TaskID)

	stored, err := f.repo.LoadCurrent(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, sess.TaskID, stored.TaskID)
}

func TestUpdate_SavesAndSyncs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := nav("/Laptop/a/b", nil)

	got, err := f.store.Update(ctx, n, func(s *domain.TaskSession, _ domain.Identity) error {
		s.ShowMore = append(s.ShowMore, domain.Interaction{ClickOrder: s.NextClickOrder()})
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got.ShowMore, 1)

	stored, err := f.repo.LoadCurrent(ctx, clientID)
	require.NoError(t, err)
	assert.Len(t, stored.ShowMore, 1)
	assert.Len(t, f.syncer.last().ShowMore, 1)
}

func TestUpdate_NoChangeSkipsWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := nav("/Laptop/a/b", nil)
	f.store.Current(ctx, n)
	saves := len(f.syncer.saves)

	_, err := f.store.Update(ctx, n, func(*domain.TaskSession, domain.Identity) error {
		return session.ErrNoChange
	})
	require.NoError(t, err)
	assert.Len(t, f.syncer.saves, saves)

	boom := errors.New("boom")
	_, err = f.store.Update(ctx, n, func(*domain.TaskSession, domain.Identity) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Len(t, f.syncer.saves, saves)
}

func TestUpdate_SerializesConcurrentWriters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := nav("/Laptop/a/b", nil)

	const writers = 50
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.store.Update(ctx, n, func(s *domain.TaskSession, _ domain.Identity) error {
				s.ShowAll = append(s.ShowAll, domain.Interaction{ClickOrder: s.NextClickOrder()})
				return nil
			})
		}()
	}
	wg.Wait()

	stored, err := f.repo.LoadCurrent(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, stored.ShowAll, writers)
	for i, in := range stored.ShowAll {
		assert.Equal(t, i+1, in.ClickOrder)
	}
}

func TestClearAll_ResetsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.store.Current(ctx, nav("/Laptop/a/b", url.Values{"RID": {"P7"}, "SID": {"S1"}}))
	assert.Equal(t, "P7", before.ParticipantID)

	require.NoError(t, f.store.ClearAll(ctx, clientID))
	assert.Equal(t, 1, f.syncer.deleteAlls)
	assert.Equal(t, 0, f.adapter.Len(), "no local state left")
	assert.Equal(t, session.StateNoSession, f.store.State(ctx, clientID))

	after := f.store.Current(ctx, nav("/Laptop/a/b", nil))
	assert.Equal(t, "anonymous", after.ParticipantID)
	assert.Equal(t, "default", after.RunID)
	assert.NotEqual(t, before.TaskID, after.TaskID)
}

func TestFinalizeCurrent_EmptySlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.store.FinalizeCurrent(ctx, clientID))
	assert.Empty(t, f.syncer.saves, "finalizing nothing creates nothing")

	f.store.Current(ctx, nav("/Laptop/a/b", nil))
	assert.True(t, f.store.FinalizeCurrent(ctx, clientID))
	assert.Equal(t, session.StateNoSession, f.store.State(ctx, clientID))
}

func TestState_ReadsPersistedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Current(ctx, nav("/Laptop/a/b", nil))

	// A second store over the same storage has not observed the client yet.
	other := session.New(f.repo, identity.NewResolver(f.repo, identity.Config{}, nil), f.syncer, nil)
	assert.Equal(t, session.StateActive, other.State(ctx, clientID))
	assert.Equal(t, session.StateNoSession, other.State(ctx, "someone-else"))
}

func TestUpdate_UnreadableSlotKeepsHistory(t *testing.T) {
	memory := storage.NewMemoryAdapter()
	flaky := &flakyAdapter{MemoryAdapter: memory}
	f := newFixtureOn(t, memory, flaky)
	ctx := context.Background()
	n := nav("/Laptop/a/b", nil)

	click := func(s *domain.TaskSession, _ domain.Identity) error {
		s.Clicks = append(s.Clicks, domain.ClickEvent{ClickOrder: s.NextClickOrder()})
		return nil
	}
	for range 3 {
		_, err := f.store.Update(ctx, n, click)
		require.NoError(t, err)
	}
	saves := len(f.syncer.saves)

	flaky.failGets.Store(1)
	_, err := f.store.Update(ctx, n, click)
	require.ErrorIs(t, err, errStorageDown)
	assert.Len(t, f.syncer.saves, saves, "nothing is synced while the slot is unreadable")

	stored, err := f.repo.LoadCurrent(ctx, clientID)
	require.NoError(t, err)
	assert.Len(t, stored.Clicks, 3, "slot not overwritten")

	got, err := f.store.Update(ctx, n, click)
	require.NoError(t, err)
	assert.Len(t, got.Clicks, 4)
	assert.Len(t, f.syncer.last().Clicks, 4)
}

func TestCurrent_UnreadableSlotReturnsUnsavedSession(t *testing.T) {
	memory := storage.NewMemoryAdapter()
	flaky := &flakyAdapter{MemoryAdapter: memory}
	f := newFixtureOn(t, memory, flaky)
	ctx := context.Background()
	n := nav("/Laptop/a/b", nil)

	_, err := f.store.Update(ctx, n, func(s *domain.TaskSession, _ domain.Identity) error {
		s.Clicks = append(s.Clicks, domain.ClickEvent{ClickOrder: 1})
		return nil
	})
	require.NoError(t, err)
	saves := len(f.syncer.saves)

	flaky.failGets.Store(1)
	blank := f.store.Current(ctx, n)
	assert.Empty(t, blank.Clicks)
	assert.Len(t, f.syncer.saves, saves)

	stored, err := f.repo.LoadCurrent(ctx, clientID)
	require.NoError(t, err)
	assert.Len(t, stored.Clicks, 1)
}
