// Package remotetest provides an in-process fake of the task-records backend.
package remotetest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/remote"
)

// Backend is a fake task-records API served by httptest.
type Backend struct {
	Server *httptest.Server

	mu      sync.Mutex
	nextID  int64
	records map[int64]remote.TaskRecord
	byTask  map[string]int64

	Lookups     atomic.Int32
	Creates     atomic.Int32
	Updates     atomic.Int32
	DeleteAlls  atomic.Int32
	failWrites  atomic.Int32
	failLookups atomic.Bool
}

// NewBackend starts a fake backend. Close it with b.Server.Close.
func NewBackend() *Backend {
	b := &Backend{
		records: make(map[int64]remote.TaskRecord),
		byTask:  make(map[string]int64),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// URL returns the API base URL (the part before /task-records).
func (b *Backend) URL() string {
	return b.Server.URL + "/api"
}

// Close stops the server.
func (b *Backend) Close() {
	b.Server.Close()
}

// FailNextWrites makes the next n POST/PUT requests answer 503.
func (b *Backend) FailNextWrites(n int32) {
	b.failWrites.Store(n)
}

// FailLookups makes task lookups answer 500 until reset.
func (b *Backend) FailLookups(fail bool) {
	b.failLookups.Store(fail)
}

// Record returns the stored record for taskID.
func (b *Backend) Record(taskID string) (remote.TaskRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byTask[taskID]
	if !ok {
		return remote.TaskRecord{}, false
	}
	return b.records[id], true
}

// Count returns the number of stored records.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/task-records")

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/task/"):
		b.lookup(w, strings.TrimPrefix(path, "/task/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/participant/"):
		b.listParticipant(w, strings.TrimPrefix(path, "/participant/"))
	case r.Method == http.MethodGet && path == "":
		writeJSON(w, http.StatusOK, []remote.TaskRecord{})
	case r.Method == http.MethodPost && path == "":
		b.write(w, r, 0)
	case r.Method == http.MethodPut:
		id, err := strconv.ParseInt(strings.TrimPrefix(path, "/"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad id"})
			return
		}
		b.write(w, r, id)
	case r.Method == http.MethodDelete && path == "":
		b.DeleteAlls.Add(1)
		b.mu.Lock()
		b.records = make(map[int64]remote.TaskRecord)
		b.byTask = make(map[string]int64)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route"})
	}
}

func (b *Backend) lookup(w http.ResponseWriter, taskID string) {
	b.Lookups.Add(1)
	if b.failLookups.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup unavailable"})
		return
	}

	rec, ok := b.Record(taskID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (b *Backend) listParticipant(w http.ResponseWriter, participantID string) {
	b.mu.Lock()
	out := []remote.TaskRecord{}
	for _, rec := range b.records {
		if rec.ParticipantID == participantID {
			out = append(out, rec)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) write(w http.ResponseWriter, r *http.Request, id int64) {
	if n := b.failWrites.Load(); n > 0 && b.failWrites.CompareAndSwap(n, n-1) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "try later"})
		return
	}

	var rec remote.TaskRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	b.mu.Lock()
	if id == 0 {
		b.Creates.Add(1)
		b.nextID++
		id = b.nextID
	} else {
		b.Updates.Add(1)
		if _, ok := b.records[id]; !ok {
			b.mu.Unlock()
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such record"})
			return
		}
	}
	rec.ID = &id
	b.records[id] = rec
	b.byTask[rec.TaskID] = id
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
