package lifecycle_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/dwell"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/identity"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/recorder"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/session"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

type discardSyncer struct{}

func (discardSyncer) EnqueueSave(*domain.TaskSession) bool { return true }
func (discardSyncer) EnqueueDeleteAll() bool               { return true }

type stack struct {
	repo *storage.Repository
	rec  *recorder.Recorder
	ctl  *lifecycle.Controller
}

func newStack() stack {
	repo := storage.NewRepository(storage.NewMemoryAdapter(), 0)
	resolver := identity.NewResolver(repo, identity.Config{
		DefaultParticipantID: "anonymous",
		DefaultRunID:         "default",
		ProductTopics:        []string{"Phone"},
	}, nil)
	store := session.New(repo, resolver, discardSyncer{}, nil)
	return stack{
		repo: repo,
		rec:  recorder.New(store, repo, nil),
		ctl:  lifecycle.New(store, dwell.New(store, repo, nil), nil),
	}
}

var phone = domain.Navigation{
	ClientID: "tab-1",
	Path:     "/Phone/middle-ai-overview/have-ai-mode/2",
	Query:    url.Values{"RID": {"R5"}},
}

func TestController_StateMachine(t *testing.T) {
	st := newStack()
	ctx := context.Background()

	assert.Equal(t, session.StateNoSession, st.ctl.State(ctx, phone.ClientID))

	res := st.ctl.Load(ctx, phone)
	assert.Equal(t, "default_R5_Phone_middle-ai-overview_have-ai-mode", res.TaskID)
	assert.Equal(t, "PRODUCT", res.TaskType)
	assert.Equal(t, session.StateActive, res.State)
	assert.Equal(t, dwell.NoPending, res.Dwell)

	st.rec.RecordClick(ctx, phone, recorder.Link{ComponentName: "SearchResults", LinkIndex: 3})
	assert.Equal(t, session.StateActive, st.ctl.State(ctx, phone.ClientID))

	assert.True(t, st.ctl.Unload(ctx, phone))
	assert.Equal(t, session.StateNoSession, st.ctl.State(ctx, phone.ClientID))
	assert.False(t, st.ctl.Unload(ctx, phone), "nothing left to finalize")

	done, err := st.repo.Completed(ctx, phone.ClientID)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.NotNil(t, done[0].EndTime)
}

func TestController_VisibleReconcilesInAnyState(t *testing.T) {
	st := newStack()
	ctx := context.Background()

	assert.Equal(t, dwell.NoPending, st.ctl.Visible(ctx, phone))

	st.rec.RecordClick(ctx, phone, recorder.Link{ComponentName: "AiMode-Sidebar", LinkIndex: 0})
	require.True(t, st.ctl.NavigateAway(ctx, phone))

	assert.Equal(t, dwell.Restored, st.ctl.Visible(ctx, phone))
	assert.Equal(t, dwell.NoPending, st.ctl.Visible(ctx, phone))
}

func TestController_LoadReconcilesReturn(t *testing.T) {
	st := newStack()
	ctx := context.Background()

	st.ctl.Load(ctx, phone)
	st.rec.RecordClick(ctx, phone, recorder.Link{ComponentName: "SearchResults", LinkIndex: 0})
	time.Sleep(10 * time.Millisecond)

	res := st.ctl.Load(ctx, phone)
	assert.Equal(t, dwell.Applied, res.Dwell)

	s, err := st.repo.LoadCurrent(ctx, phone.ClientID)
	require.NoError(t, err)
	require.Len(t, s.Clicks, 1)
	require.NotNil(t, s.Clicks[0].DwellTimeSec)
}

func TestController_LoadRollsOverOnTopicChange(t *testing.T) {
	st := newStack()
	ctx := context.Background()

	first := st.ctl.Load(ctx, phone)

	laptop := phone
	laptop.Path = "/Laptop/middle-ai-overview/have-ai-mode/1"
	second := st.ctl.Load(ctx, laptop)

	assert.NotEqual(t, first.TaskID, second.TaskID)
	assert.Equal(t, "INFO", second.TaskType)

	done, err := st.repo.Completed(ctx, phone.ClientID)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, first.TaskID, done[0].TaskID)
}
