package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/testutil"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T, m *jobstate.Machine, callbacks ...models.JobCallback) *models.TuningJob {
	t.Helper()

	job := &models.TuningJob{
		Alias:        "demo-job",
		NTrials:      3,
		MemoryBudget: 1 << 30,
		DataPath:     "/data/interactions.csv",
		Cutoff:       10,
		Callbacks:    callbacks,
	}
	require.NoError(t, m.Create(context.Background(), job))
	claimed, err := m.Claim(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	return job
}

func notification(url string) models.JobCallback {
	return models.JobCallback{
		Type:          models.CallbackTypeNotification,
		Configuration: map[string]any{"url": url, "headers": map[string]any{"X-Team": "search"}},
	}
}

func TestDispatchNotificationSuccess(t *testing.T) {
	var received atomic.Bool
	var receivedMeta Metadata
	var team string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		received.Store(true)
		team = r.Header.Get("X-Team")
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		if err := json.NewDecoder(r.Body).Decode(&receivedMeta); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := jobstate.New(testutil.OpenTestDB(t))
	job := newJob(t, m, notification(server.URL))
	require.NoError(t, m.Complete(context.Background(), job.ID, jobstate.Outcome{
		Candidate:   "ease",
		Params:      map[string]interface{}{"lambda": 250.0},
		Score:       0.42,
		ArtifactRef: "artifacts/job-1",
	}))

	dispatcher := NewDispatcher(m)
	dispatcher.WithHTTPClient(server.Client())

	require.NoError(t, dispatcher.Dispatch(context.Background(), job.ID))

	require.True(t, received.Load(), "callback should have been sent")
	require.Equal(t, "search", team)
	require.Equal(t, job.ID, receivedMeta.JobID)
	require.Equal(t, job.Alias, receivedMeta.JobAlias)
	require.Equal(t, string(models.JobStatusCompleted), receivedMeta.Status)
	require.Equal(t, "ease", receivedMeta.BestCandidate)
	require.NotNil(t, receivedMeta.BestScore)
	require.InDelta(t, 0.42, *receivedMeta.BestScore, 1e-12)
	require.InDelta(t, 250.0, receivedMeta.BestParams["lambda"], 1e-12)
	require.Equal(t, "artifacts/job-1", receivedMeta.ArtifactRef)
	require.NotNil(t, receivedMeta.CompletedAt)
}

func TestDispatchReportsFailedJob(t *testing.T) {
	var receivedMeta Metadata
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		_ = json.NewDecoder(r.Body).Decode(&receivedMeta)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	m := jobstate.New(testutil.OpenTestDB(t))
	job := newJob(t, m, notification(server.URL))
	require.NoError(t, m.Fail(context.Background(), job.ID, errors.New("no feasible candidate")))

	dispatcher := NewDispatcher(m)
	dispatcher.WithHTTPClient(server.Client())

	require.NoError(t, dispatcher.Dispatch(context.Background(), job.ID))
	require.Equal(t, string(models.JobStatusFailed), receivedMeta.Status)
	require.Equal(t, "no feasible candidate", receivedMeta.Error)
	require.Nil(t, receivedMeta.BestScore)
}

func TestDispatchMissingHandler(t *testing.T) {
	m := jobstate.New(testutil.OpenTestDB(t))
	job := newJob(t, m, models.JobCallback{Type: models.CallbackType("custom")})
	require.NoError(t, m.Fail(context.Background(), job.ID, errors.New("boom")))

	dispatcher := NewDispatcher(m)
	dispatcher.timeout = time.Second

	err := dispatcher.Dispatch(context.Background(), job.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no handler registered for callback type")
}

func TestDispatchAttemptsEveryCallback(t *testing.T) {
	var hits int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	m := jobstate.New(testutil.OpenTestDB(t))
	job := newJob(t, m, notification(failing.URL), notification(ok.URL))
	require.NoError(t, m.Fail(context.Background(), job.ID, errors.New("boom")))

	dispatcher := NewDispatcher(m)
	err := dispatcher.Dispatch(context.Background(), job.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "webhook responded 500")
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestDispatchRejectsRunningJob(t *testing.T) {
	m := jobstate.New(testutil.OpenTestDB(t))
	job := newJob(t, m, notification("http://127.0.0.1:1"))

	err := NewDispatcher(m).Dispatch(context.Background(), job.ID)
	require.ErrorContains(t, err, "terminal")
}

func TestDispatchWithoutCallbacks(t *testing.T) {
	m := jobstate.New(testutil.OpenTestDB(t))
	job := newJob(t, m)
	require.NoError(t, m.Fail(context.Background(), job.ID, errors.New("boom")))

	require.NoError(t, NewDispatcher(m).Dispatch(context.Background(), job.ID))
}

func TestListenDispatchesTerminalEvents(t *testing.T) {
	received := make(chan Metadata, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		var meta Metadata
		_ = json.NewDecoder(r.Body).Decode(&meta)
		received <- meta
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := jobstate.New(testutil.OpenTestDB(t))
	job := newJob(t, m, notification(server.URL))
	require.NoError(t, m.Fail(context.Background(), job.ID, errors.New("boom")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.New()
	dispatcher := NewDispatcher(m)
	require.NoError(t, dispatcher.Listen(ctx, bus))

	bus.Publish(event.Event{Type: event.TypeJobStarted, JobID: job.ID})
	bus.Publish(event.Event{Type: event.TypeJobFailed, JobID: job.ID})

	select {
	case meta := <-received:
		require.Equal(t, job.ID, meta.JobID)
		require.Equal(t, string(models.JobStatusFailed), meta.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not delivered")
	}
}
