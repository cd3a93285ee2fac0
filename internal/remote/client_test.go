package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/remote"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/remote/remotetest"
)

func newSession() *domain.TaskSession {
	s := domain.NewTaskSession(domain.Identity{
		ParticipantID: "P7", RunID: "S1", Topic: "Laptop",
		TreatmentGroup: "ai_a", TaskType: domain.TaskTypeProduct,
	}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	dwell := 12.5
	s.Clicks = append(s.Clicks,
		domain.ClickEvent{ID: "e1", SessionID: s.TaskID, ClickOrder: 1, PageID: "organic_1", PositionInSERP: 1, DwellTimeSec: &dwell},
		domain.ClickEvent{ID: "e2", SessionID: s.TaskID, ClickOrder: 3, PageID: "overview_ref_3", FromOverview: true},
		domain.ClickEvent{ID: "e3", SessionID: s.TaskID, ClickOrder: 4, PageID: "aimode_ref_1", FromAIMode: true},
	)
	s.ShowMore = append(s.ShowMore, domain.Interaction{ID: "m1", ClickOrder: 2, ComponentName: "AiOverview"})
	return s
}

func newClient(t *testing.T, baseURL string) *remote.Client {
	t.Helper()

	return remote.NewClient(remote.Config{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, logger.NewNop())
}

func TestRecordRoundTrip(t *testing.T) {
	s := newSession()

	data, err := json.Marshal(remote.ToRecord(s))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "PRODUCT", wire["taskType"])
	assert.Equal(t, "S1_P7_Laptop_ai_a", wire["taskId"])
	assert.NotContains(t, wire, "id", "create payloads carry no id")

	var rec remote.TaskRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	back := remote.FromRecord(rec)

	assert.Equal(t, s.TaskID, back.TaskID)
	assert.Equal(t, s.TaskType, back.TaskType)
	require.Len(t, back.Clicks, len(s.Clicks))
	for i := range s.Clicks {
		assert.Equal(t, s.Clicks[i].ClickOrder, back.Clicks[i].ClickOrder)
		assert.Equal(t, s.Clicks[i].PageID, back.Clicks[i].PageID)
		assert.Equal(t, s.Clicks[i].FromOverview, back.Clicks[i].FromOverview)
		assert.Equal(t, s.Clicks[i].FromAIMode, back.Clicks[i].FromAIMode)
	}
	require.NotNil(t, back.Clicks[0].DwellTimeSec)
	assert.Nil(t, back.Clicks[1].DwellTimeSec)
}

func TestSave_CreateThenUpdate(t *testing.T) {
	backend := remotetest.NewBackend()
	defer backend.Close()

	c := newClient(t, backend.URL())
	ctx := context.Background()
	s := newSession()

	require.NoError(t, c.Save(ctx, s))
	assert.Equal(t, int32(1), backend.Creates.Load())
	assert.Equal(t, int32(0), backend.Updates.Load())

	s.ShowAll = append(s.ShowAll, domain.Interaction{ID: "a1", ClickOrder: 5, ComponentName: "AiMode"})
	require.NoError(t, c.Save(ctx, s))

	assert.Equal(t, int32(1), backend.Creates.Load(), "second save must not create")
	assert.Equal(t, int32(1), backend.Updates.Load())
	assert.Equal(t, 1, backend.Count())

	rec, ok := backend.Record(s.TaskID)
	require.True(t, ok)
	assert.Len(t, rec.ShowAllInteractions, 1)
}

func TestSave_LookupFailureFallsBackToCreate(t *testing.T) {
	backend := remotetest.NewBackend()
	defer backend.Close()
	backend.FailLookups(true)

	c := newClient(t, backend.URL())
	require.NoError(t, c.Save(context.Background(), newSession()))
	assert.Equal(t, int32(1), backend.Creates.Load())
}

func TestSaveWithRetry_RecoversFromTransientFailures(t *testing.T) {
	backend := remotetest.NewBackend()
	defer backend.Close()
	backend.FailNextWrites(2)

	c := newClient(t, backend.URL())
	ok := c.SaveWithRetry(context.Background(), newSession(), 3)

	assert.True(t, ok)
	assert.Equal(t, 1, backend.Count())
}

func TestSaveWithRetry_GivesUpAfterBound(t *testing.T) {
	backend := remotetest.NewBackend()
	defer backend.Close()
	backend.FailNextWrites(100)

	c := newClient(t, backend.URL())
	ok := c.SaveWithRetry(context.Background(), newSession(), 2)

	assert.False(t, ok)
	assert.Equal(t, int32(3), backend.Lookups.Load(), "one attempt plus two retries")
}

func TestSaveWithRetry_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"taskType must be PRODUCT or INFO"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	assert.False(t, c.SaveWithRetry(context.Background(), newSession(), 3))
	assert.Equal(t, int32(2), calls.Load(), "lookup and create, no retries")
}

func TestSave_HTTPErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid record"}`))
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).Save(context.Background(), newSession())

	var httpErr *remote.HTTPError
	require.True(t, errors.As(err, &httpErr), "expected *HTTPError, got %v", err)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "invalid record", httpErr.Message)
}

func TestGetByTaskID_NotFound(t *testing.T) {
	backend := remotetest.NewBackend()
	defer backend.Close()

	_, err := newClient(t, backend.URL()).GetByTaskID(context.Background(), "S1_P7_Laptop_ai_a")
	assert.ErrorIs(t, err, remote.ErrRecordNotFound)
}

func TestListByParticipantAndDeleteAll(t *testing.T) {
	backend := remotetest.NewBackend()
	defer backend.Close()

	c := newClient(t, backend.URL())
	ctx := context.Background()
	require.NoError(t, c.Save(ctx, newSession()))

	recs, err := c.ListByParticipant(ctx, "P7")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, c.DeleteAll(ctx))
	assert.Equal(t, 0, backend.Count())
	assert.Equal(t, int32(1), backend.DeleteAlls.Load())
}

func TestPing(t *testing.T) {
	backend := remotetest.NewBackend()
	c := newClient(t, backend.URL())

	require.NoError(t, c.Ping(context.Background()))

	backend.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestBreakerOpensOnUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := remote.NewClient(remote.Config{
		BaseURL:         srv.URL,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, logger.NewNop())
	ctx := context.Background()

	for range 2 {
		_ = c.Ping(ctx)
	}

	err := c.Ping(ctx)
	assert.ErrorIs(t, err, remote.ErrCircuitOpen)
}
