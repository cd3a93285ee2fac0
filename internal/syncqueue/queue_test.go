package syncqueue_test

import (
	"context"
	"hash/fnv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/syncqueue"
)

type fakeSaver struct {
	mu       sync.Mutex
	fail     bool
	saved    []domain.TaskSession
	deletes  int
	blockCh  chan struct{}
	attempts int
}

func (f *fakeSaver) SaveWithRetry(_ context.Context, s *domain.TaskSession, _ int) bool {
	if f.blockCh != nil {
		<-f.blockCh
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail {
		return false
	}
	f.saved = append(f.saved, *s)
	return true
}

func (f *fakeSaver) DeleteAll(context.Context) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	return nil
}

func (f *fakeSaver) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeSaver) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func session(topic string, clicks int) *domain.TaskSession {
	s := domain.NewTaskSession(domain.Identity{
		ParticipantID: "P1", RunID: "S1", Topic: topic, TreatmentGroup: "ai_a",
	}, time.Now())
	for i := range clicks {
		s.Clicks = append(s.Clicks, domain.ClickEvent{ClickOrder: i + 1})
	}
	return s
}

// orderedSaver logs saves and deletes in the order they reach the backend.
// With hold set, the first save blocks until its context is cancelled.
type orderedSaver struct {
	mu      sync.Mutex
	hold    bool
	entered chan struct{}
	events  []string
}

func (o *orderedSaver) SaveWithRetry(ctx context.Context, s *domain.TaskSession, _ int) bool {
	o.mu.Lock()
	hold := o.hold
	o.hold = false
	o.mu.Unlock()

	if hold {
		close(o.entered)
		<-ctx.Done()
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "save "+s.Topic)
	return true
}

func (o *orderedSaver) DeleteAll(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "delete")
	return nil
}

func (o *orderedSaver) log() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// sessionOnShard returns a session whose task id lands on the given worker.
func sessionOnShard(t *testing.T, shard, workers int) *domain.TaskSession {
	t.Helper()
	for _, topic := range []string{"Laptop", "Phone", "Camera", "Tablet", "Headphones", "Monitor", "Router", "Printer"} {
		s := session(topic, 1)
		h := fnv.New32a()
		_, _ = h.Write([]byte(s.TaskID))
		if int(h.Sum32()%uint32(workers)) == shard {
			return s
		}
	}
	t.Fatalf("no topic hashes to shard %d", shard)
	return nil
}

func newQueue(saver syncqueue.Saver, cfg syncqueue.Config) *syncqueue.Queue {
	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = time.Hour
	}
	return syncqueue.New(saver, cfg, logger.NewNop(), nil)
}

func TestQueue_SavesSnapshots(t *testing.T) {
	saver := &fakeSaver{}
	q := newQueue(saver, syncqueue.Config{QueueSize: 10, Workers: 2})
	q.Start()

	assert.True(t, q.EnqueueSave(session("Laptop", 1)))
	assert.True(t, q.EnqueueSave(session("Phone", 1)))
	q.Stop()

	assert.Equal(t, 2, saver.savedCount())
	assert.Equal(t, 0, q.Unsynced())
}

func TestQueue_SkipsSupersededSnapshots(t *testing.T) {
	saver := &fakeSaver{}
	q := newQueue(saver, syncqueue.Config{QueueSize: 10, Workers: 1})

	// Workers are not running yet, so all three sit in the queue.
	q.EnqueueSave(session("Laptop", 1))
	q.EnqueueSave(session("Laptop", 2))
	q.EnqueueSave(session("Laptop", 3))

	q.Start()
	q.Stop()

	require.Equal(t, 1, saver.savedCount(), "only the newest snapshot is sent")
	assert.Len(t, saver.saved[0].Clicks, 3)
}

func TestQueue_FullQueueDefersToResync(t *testing.T) {
	saver := &fakeSaver{}
	q := newQueue(saver, syncqueue.Config{QueueSize: 1, Workers: 1})

	assert.True(t, q.EnqueueSave(session("Laptop", 1)))
	assert.False(t, q.EnqueueSave(session("Phone", 1)), "second job does not fit")
	assert.Equal(t, 1, q.Unsynced())

	q.Start()
	// Let the first job drain and make room for the resync.
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	q.Resync()
	q.Stop()

	assert.Equal(t, 2, saver.savedCount())
	assert.Equal(t, 0, q.Unsynced())
}

func TestQueue_FailedSaveIsResent(t *testing.T) {
	saver := &fakeSaver{fail: true}
	q := newQueue(saver, syncqueue.Config{QueueSize: 10, Workers: 1, ResyncInterval: 10 * time.Millisecond})
	q.Start()
	defer q.Stop()

	q.EnqueueSave(session("Laptop", 1))
	require.Eventually(t, func() bool { return q.Unsynced() == 1 }, time.Second, 5*time.Millisecond)

	saver.setFail(false)
	require.Eventually(t, func() bool { return q.Unsynced() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, saver.savedCount())
}

func TestQueue_DeleteAllClearsUnsynced(t *testing.T) {
	saver := &fakeSaver{fail: true}
	q := newQueue(saver, syncqueue.Config{QueueSize: 10, Workers: 1})
	q.Start()

	q.EnqueueSave(session("Laptop", 1))
	require.Eventually(t, func() bool { return q.Unsynced() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, q.EnqueueDeleteAll())
	q.Stop()

	assert.Equal(t, 0, q.Unsynced())
	assert.Equal(t, 1, saver.deletes)
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	saver := &fakeSaver{blockCh: make(chan struct{})}
	q := newQueue(saver, syncqueue.Config{QueueSize: 2, Workers: 1})
	q.Start()

	done := make(chan struct{})
	go func() {
		for range 10 {
			q.EnqueueSave(session("Laptop", 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EnqueueSave blocked on a full queue")
	}

	close(saver.blockCh)
	q.Stop()
}

func TestQueue_DeleteAllCancelsSavesInFlight(t *testing.T) {
	saver := &orderedSaver{hold: true, entered: make(chan struct{})}
	q := newQueue(saver, syncqueue.Config{QueueSize: 10, Workers: 2})
	q.Start()

	q.EnqueueSave(sessionOnShard(t, 1, 2))
	select {
	case <-saver.entered:
	case <-time.After(time.Second):
		t.Fatal("save never started")
	}

	assert.True(t, q.EnqueueDeleteAll())
	q.Stop()

	assert.Equal(t, []string{"delete"}, saver.log(), "the interrupted save is not retried after the delete")
	assert.Equal(t, 0, q.Unsynced())
}

func TestQueue_DeleteAllDropsEarlierSnapshots(t *testing.T) {
	saver := &orderedSaver{}
	q := newQueue(saver, syncqueue.Config{QueueSize: 10, Workers: 2})

	before := sessionOnShard(t, 1, 2)
	q.EnqueueSave(before)
	q.EnqueueSave(session("Monitor", 2))
	assert.True(t, q.EnqueueDeleteAll())
	q.EnqueueSave(session("Speaker", 1))

	q.Start()
	q.Stop()

	assert.Equal(t, []string{"delete", "save Speaker"}, saver.log())
	assert.Equal(t, 0, q.Unsynced())
}
