package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/dispatcher"
	"github.com/newsloom/scraper/internal/engine"
	"github.com/newsloom/scraper/internal/events"
	storagememory "github.com/newsloom/scraper/internal/storage/memory"
)

type fakeTrigger struct {
	jobStore *storagememory.JobStore
	nextID   string
	maxPer   int
}

func (f *fakeTrigger) PrepareJob(ctx context.Context, sourceIDs []string, articlesPerSource int) (engine.Job, error) {
	if len(sourceIDs) == 0 {
		return engine.Job{}, fmt.Errorf("%w: source list is empty", engine.ErrInvalidRequest)
	}
	if articlesPerSource < 1 || articlesPerSource > f.maxPer {
		return engine.Job{}, fmt.Errorf("%w: articles per source must be in [1, %d]", engine.ErrInvalidRequest, f.maxPer)
	}
	job := engine.Job{
		ID:                f.nextID,
		SourceIDs:         sourceIDs,
		ArticlesPerSource: articlesPerSource,
		Status:            engine.JobStatusNew,
		Created:           time.Unix(100, 0).UTC(),
	}
	if err := f.jobStore.CreateJob(ctx, job); err != nil {
		return engine.Job{}, err
	}
	return job, nil
}

type sinkExecutor struct{}

func (sinkExecutor) ExecuteJob(_ context.Context, job engine.Job) (engine.JobResult, error) {
	return engine.JobResult{Job: job}, nil
}

func newTestServer(t *testing.T) (*Server, *storagememory.JobStore, *storagememory.EventLog) {
	t.Helper()
	jobStore := storagememory.NewJobStore()
	eventLog := storagememory.NewEventLog()
	trigger := &fakeTrigger{jobStore: jobStore, nextID: "job-1", maxPer: 100}
	disp := dispatcher.New(sinkExecutor{}, dispatcher.Config{Workers: 1, QueueDepth: 4}, zap.NewNop())
	return NewServer(trigger, disp, jobStore, eventLog, zap.NewNop()), jobStore, eventLog
}

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	body := []byte(`{"source_ids":["src-a","src-b"],"articles_per_source":10}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")
	require.Contains(t, rec.Body.String(), string(engine.JobStatusNew))
}

func TestSubmitJobInvalidJSON(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJobEmptySources(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"source_ids":[],"articles_per_source":10}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "source list is empty")
}

func TestSubmitJobCountOutOfRange(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"source_ids":["src-a"],"articles_per_source":0}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobStatusReturnsJobAndOutcomes(t *testing.T) {
	t.Parallel()

	server, jobStore, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, jobStore.CreateJob(ctx, engine.Job{ID: "job-done", Status: engine.JobStatusPartial}))
	require.NoError(t, jobStore.RecordSourceOutcome(ctx, "job-done", engine.SourceOutcome{
		SourceID: "src-a", Extracted: 3,
		Persistence: engine.PersistenceResult{SourceID: "src-a", SavedCount: 3},
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-done/status", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "partial")
	require.Contains(t, rec.Body.String(), "src-a")
}

func TestGetJobStatusNotFound(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing/status", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobEvents(t *testing.T) {
	t.Parallel()

	server, jobStore, eventLog := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, jobStore.CreateJob(ctx, engine.Job{ID: "job-ev", Status: engine.JobStatusSuccessful}))
	require.NoError(t, eventLog.Append(ctx, events.Event{
		JobID:   "job-ev",
		Level:   events.LevelInfo,
		Phase:   events.PhaseJob,
		Name:    events.EventJobStarted,
		Message: "job started",
		TS:      time.Unix(100, 0).UTC(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-ev/events", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), events.EventJobStarted)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}
