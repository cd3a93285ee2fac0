// Package syncqueue pushes session snapshots to the backend in the background.
//
// Jobs are sharded by task id so saves of one session run in order on one
// worker, and a save is skipped when a newer snapshot of the same session has
// already been queued. Snapshots that could not be saved, including ones
// dropped because the queue was full, are kept and re-sent on a timer.
//
// A delete-all is a barrier across every shard: snapshots taken before it are
// dropped, saves in flight are cancelled and waited for, and snapshots taken
// after it are held until the bulk delete is done.
package syncqueue

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/metrics"
)

const (
	defaultQueueSize      = 1000
	defaultWorkers        = 4
	defaultMaxRetries     = 3
	defaultResyncInterval = time.Minute
	defaultJobTimeout     = 30 * time.Second
)

// Saver is the backend client. remote.Client implements it.
type Saver interface {
	SaveWithRetry(ctx context.Context, s *domain.TaskSession, maxRetries int) bool
	DeleteAll(ctx context.Context) error
}

// Config configures the queue.
type Config struct {
	QueueSize      int
	Workers        int
	MaxRetries     int
	ResyncInterval time.Duration
	JobTimeout     time.Duration
}

type jobKind int

const (
	jobSave jobKind = iota
	jobDeleteAll
)

type job struct {
	kind    jobKind
	seq     uint64
	session *domain.TaskSession
	barrier *barrier
}

// barrier marks a delete-all. Snapshots with a lower seq predate it.
type barrier struct {
	seq  uint64
	done chan struct{}
}

type snapshot struct {
	seq     uint64
	session *domain.TaskSession
}

// Queue is a bounded, sharded background sync queue.
type Queue struct {
	cfg     Config
	saver   Saver
	log     logger.Logger
	metrics *metrics.Metrics

	shards []chan job
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	seq    atomic.Uint64

	// inflight is held shared by saves and exclusively by delete-all.
	inflight sync.RWMutex

	mu          sync.Mutex
	latest      map[string]uint64
	unsynced    map[string]snapshot
	barrier     *barrier
	saveCtx     context.Context
	cancelSaves context.CancelFunc
}

// New creates a queue. Call Start before enqueueing.
func New(saver Saver, cfg Config, log logger.Logger, m *metrics.Metrics) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = defaultResyncInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	perShard := max(cfg.QueueSize/cfg.Workers, 1)
	shards := make([]chan job, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan job, perShard)
	}

	saveCtx, cancelSaves := context.WithCancel(context.Background())
	return &Queue{
		cfg:         cfg,
		saver:       saver,
		log:         log,
		metrics:     m,
		shards:      shards,
		closed:      make(chan struct{}),
		latest:      make(map[string]uint64),
		unsynced:    make(map[string]snapshot),
		saveCtx:     saveCtx,
		cancelSaves: cancelSaves,
	}
}

// Start launches the workers and the resync loop.
func (q *Queue) Start() {
	for i := range q.shards {
		q.wg.Add(1)
		go q.worker(q.shards[i])
	}
	q.wg.Add(1)
	go q.resyncLoop()
}

// Stop stops accepting work, lets workers finish queued jobs and waits for them.
func (q *Queue) Stop() {
	q.once.Do(func() {
		close(q.closed)
	})
	q.wg.Wait()

	q.mu.Lock()
	q.cancelSaves()
	q.mu.Unlock()
}

// EnqueueSave queues a snapshot without blocking. A snapshot that does not fit
// is kept for the next resync and false is returned.
func (q *Queue) EnqueueSave(s *domain.TaskSession) bool {
	q.mu.Lock()
	seq := q.seq.Add(1)
	q.latest[s.TaskID] = seq
	q.mu.Unlock()

	if q.send(job{kind: jobSave, seq: seq, session: s}) {
		return true
	}

	q.metrics.RecordQueueDrop()
	q.log.Warn("Sync queue full, deferring save to resync",
		logger.String("task_id", s.TaskID),
	)
	q.markUnsynced(seq, s)
	return false
}

// EnqueueDeleteAll queues a backend bulk delete. Every snapshot enqueued
// before the call is forgotten and saves in flight are cancelled.
func (q *Queue) EnqueueDeleteAll() bool {
	q.mu.Lock()
	b := &barrier{seq: q.seq.Add(1), done: make(chan struct{})}
	q.barrier = b
	q.unsynced = make(map[string]snapshot)
	q.metrics.SetUnsynced(0)
	cancel := q.cancelSaves
	q.saveCtx, q.cancelSaves = context.WithCancel(context.Background())

	// Sent under mu so no later snapshot reaches shard 0 ahead of the barrier.
	queued := false
	select {
	case <-q.closed:
	case q.shards[0] <- job{kind: jobDeleteAll, seq: b.seq, barrier: b}:
		queued = true
	default:
		q.metrics.RecordQueueDrop()
		q.log.Warn("Sync queue full, dropping delete-all request")
	}
	q.mu.Unlock()

	cancel()
	if !queued {
		close(b.done)
	}
	return queued
}

// Unsynced returns the number of sessions waiting for a successful save.
func (q *Queue) Unsynced() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.unsynced)
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	n := 0
	for _, ch := range q.shards {
		n += len(ch)
	}
	return n
}

// Resync re-queues every unsynced snapshot now.
func (q *Queue) Resync() {
	q.mu.Lock()
	pending := make([]snapshot, 0, len(q.unsynced))
	for _, snap := range q.unsynced {
		pending = append(pending, snap)
	}
	q.mu.Unlock()

	for _, snap := range pending {
		if !q.send(job{kind: jobSave, seq: snap.seq, session: snap.session}) {
			return
		}
	}
	if len(pending) > 0 {
		q.log.Info("Resyncing unsynced sessions", logger.Int("count", len(pending)))
	}
}

func (q *Queue) send(j job) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	ch := q.shards[0]
	if j.session != nil {
		ch = q.shards[shardFor(j.session.TaskID, len(q.shards))]
	}

	select {
	case ch <- j:
		q.metrics.SetQueueDepth(q.Len())
		return true
	default:
		return false
	}
}

func shardFor(taskID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return int(h.Sum32() % uint32(n))
}

func (q *Queue) worker(ch chan job) {
	defer q.wg.Done()

	for {
		select {
		case j := <-ch:
			q.process(j)
		case <-q.closed:
			for {
				select {
				case j := <-ch:
					q.process(j)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) resyncLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Resync()
		case <-q.closed:
			return
		}
	}
}

func (q *Queue) process(j job) {
	defer q.metrics.SetQueueDepth(q.Len())

	if j.kind == jobDeleteAll {
		q.deleteAll(j.barrier)
		return
	}

	saveCtx, ok := q.admit(j)
	if !ok {
		return
	}
	defer q.inflight.RUnlock()

	ctx, cancel := context.WithTimeout(saveCtx, q.cfg.JobTimeout)
	defer cancel()

	saved := q.saver.SaveWithRetry(ctx, j.session, q.cfg.MaxRetries)

	taskID := j.session.TaskID
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.barrier != nil && j.seq < q.barrier.seq {
		// Cleared while the save was running.
		return
	}
	if saved {
		if snap, has := q.unsynced[taskID]; has && snap.seq <= j.seq {
			delete(q.unsynced, taskID)
		}
		if q.latest[taskID] == j.seq {
			delete(q.latest, taskID)
		}
	} else if snap, has := q.unsynced[taskID]; !has || snap.seq < j.seq {
		q.unsynced[taskID] = snapshot{seq: j.seq, session: j.session}
	}
	q.metrics.SetUnsynced(len(q.unsynced))
}

// admit decides whether a save job runs. When it does, the inflight read lock
// is held and the returned context is cancelled by the next delete-all.
func (q *Queue) admit(j job) (context.Context, bool) {
	for {
		q.inflight.RLock()

		q.mu.Lock()
		b := q.barrier
		stale := b != nil && j.seq < b.seq
		superseded := j.seq < q.latest[j.session.TaskID]
		saveCtx := q.saveCtx
		q.mu.Unlock()

		if stale || superseded {
			q.inflight.RUnlock()
			return nil, false
		}
		if b == nil {
			return saveCtx, true
		}
		select {
		case <-b.done:
			return saveCtx, true
		default:
		}

		// Taken after the pending delete-all; wait for it to finish.
		q.inflight.RUnlock()
		<-b.done
	}
}

func (q *Queue) deleteAll(b *barrier) {
	defer close(b.done)

	q.inflight.Lock()
	defer q.inflight.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	defer cancel()

	if err := q.saver.DeleteAll(ctx); err != nil {
		q.log.Error("Backend delete-all failed", logger.Error(err))
	}
}

func (q *Queue) markUnsynced(seq uint64, s *domain.TaskSession) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.barrier != nil && seq < q.barrier.seq {
		return
	}

	if snap, has := q.unsynced[s.TaskID]; !has || snap.seq < seq {
		q.unsynced[s.TaskID] = snapshot{seq: seq, session: s}
	}
	q.metrics.SetUnsynced(len(q.unsynced))
}
