package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newsloom/scraper/internal/events"
)

type orchestratorFixture struct {
	registry  *fakeRegistry
	feeds     *fakeFeeds
	persister *fakePersister
	verifier  *fakeVerifier
	jobStore  *fakeJobStore
	eventLog  *fakeEventLog
	idGen     *fakeIDGen
}

func feedItems(n int) []FeedItem {
	out := make([]FeedItem, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, FeedItem{
			Title: "Feed Title " + string(rune('a'+i)),
			URL:   "https://example.com/item-" + string(rune('a'+i)),
		})
	}
	return out
}

func newOrchestratorFixture(runner SourceRunner) (*Orchestrator, *orchestratorFixture) {
	fx := &orchestratorFixture{
		registry: &fakeRegistry{sources: map[string]Source{
			"src-a": {ID: "src-a", Name: "Alpha News"},
			"src-b": {ID: "src-b", Name: "Beta News"},
		}},
		feeds: &fakeFeeds{
			items: map[string][]FeedItem{
				"src-a": feedItems(3),
				"src-b": feedItems(3),
			},
			errs: map[string]error{},
		},
		persister: &fakePersister{},
		verifier:  &fakeVerifier{},
		jobStore:  newFakeJobStore(),
		eventLog:  &fakeEventLog{},
		idGen:     &fakeIDGen{},
	}
	o := NewOrchestrator(
		fx.registry,
		fx.feeds,
		runner,
		fx.persister,
		fx.verifier,
		fx.jobStore,
		fx.eventLog,
		fx.idGen,
		fakeClock{t: time.Unix(1700000000, 0).UTC()},
		OrchestratorConfig{MaxArticlesPerSource: 50, DefaultCandidateMargin: 1},
		nil,
	)
	return o, fx
}

// echoRunner turns every candidate into one extracted article.
func echoRunner() runnerFunc {
	return func(_ context.Context, job Job, source Source, candidates []Candidate) (SourceResult, error) {
		result := SourceResult{SourceID: source.ID, SourceName: source.Name}
		for _, cand := range candidates {
			result.Articles = append(result.Articles, ExtractedArticle{
				TrackingID: cand.TrackingID,
				JobID:      job.ID,
				SourceID:   cand.SourceID,
				URL:        cand.URL,
				Title:      cand.FeedTitle,
				Body:       "article body",
				Strategy:   "selectors",
			})
		}
		return result, nil
	}
}

func TestPrepareJobValidatesRequest(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	ctx := context.Background()

	cases := []struct {
		name    string
		sources []string
		count   int
	}{
		{"empty source list", nil, 10},
		{"zero articles", []string{"src-a"}, 0},
		{"above maximum", []string{"src-a"}, 51},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.PrepareJob(ctx, tc.sources, tc.count)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	require.Empty(t, fx.jobStore.jobs)
}

func TestPrepareJobCreatesJobInStatusNew(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	job, err := o.PrepareJob(context.Background(), []string{"src-a", "src-b"}, 5)
	require.NoError(t, err)
	require.Equal(t, "id-0001", job.ID)
	require.Equal(t, JobStatusNew, job.Status)
	require.Equal(t, []string{"src-a", "src-b"}, job.SourceIDs)
	require.Equal(t, 5, job.ArticlesPerSource)

	stored, err := fx.jobStore.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, JobStatusNew, stored.Status)
}

func TestRunJobAllSourcesSucceed(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	result, err := o.RunJob(context.Background(), []string{"src-a", "src-b"}, 2)
	require.NoError(t, err)

	// 2 requested + margin 1 = 3 candidates per source, all extracted.
	require.Equal(t, JobStatusSuccessful, result.Job.Status)
	require.Equal(t, 6, result.Job.Counters.ArticlesExtracted)
	require.Equal(t, 6, result.Job.Counters.ArticlesPersisted)
	require.Zero(t, result.Job.Counters.Errors)
	require.NotNil(t, result.Job.Completed)
	require.True(t, result.Reconciliation.Clean)

	require.Len(t, result.Sources, 2)
	for _, outcome := range result.Sources {
		require.Empty(t, outcome.FatalError)
		require.Equal(t, 3, outcome.Extracted)
		require.Equal(t, 3, outcome.Persistence.SavedCount)
	}

	require.Equal(t, JobStatusSuccessful, fx.jobStore.lastStatus())
	require.Len(t, fx.eventLog.named(events.EventJobStarted), 1)
	require.Len(t, fx.eventLog.named(events.EventJobCompleted), 1)
	require.Len(t, fx.eventLog.named(events.EventSourceCompleted), 2)
}

func TestRunJobPartialWhenOneSourceFatal(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	fx.feeds.errs["src-b"] = errors.New("dial tcp: connection refused")

	result, err := o.RunJob(context.Background(), []string{"src-a", "src-b"}, 2)
	require.NoError(t, err)
	require.Equal(t, JobStatusPartial, result.Job.Status)

	byID := map[string]SourceOutcome{}
	for _, outcome := range result.Sources {
		byID[outcome.SourceID] = outcome
	}
	require.Empty(t, byID["src-a"].FatalError)
	require.Equal(t, 3, byID["src-a"].Persistence.SavedCount)
	require.Contains(t, byID["src-b"].FatalError, "feed unreachable")
	require.Zero(t, byID["src-b"].Persistence.SavedCount)

	require.Len(t, fx.eventLog.named(events.EventSourceFailed), 1)
	require.Equal(t, JobStatusPartial, fx.jobStore.lastStatus())
}

func TestRunJobFailedWhenAllSourcesFatal(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	fx.registry.sources = map[string]Source{}

	result, err := o.RunJob(context.Background(), []string{"src-a", "src-b"}, 2)
	require.NoError(t, err)
	require.Equal(t, JobStatusFailed, result.Job.Status)
	for _, outcome := range result.Sources {
		require.Contains(t, outcome.FatalError, "not registered")
	}
	require.Empty(t, fx.persister.got)
	require.Equal(t, JobStatusFailed, fx.jobStore.lastStatus())
}

func TestRunJobRunnerPanicBecomesFatalOutcome(t *testing.T) {
	t.Parallel()

	panicking := runnerFunc(func(context.Context, Job, Source, []Candidate) (SourceResult, error) {
		panic("selector index out of range")
	})
	o, fx := newOrchestratorFixture(panicking)

	result, err := o.RunJob(context.Background(), []string{"src-a"}, 2)
	require.NoError(t, err)
	require.Equal(t, JobStatusFailed, result.Job.Status)
	require.Len(t, result.Sources, 1)
	require.Contains(t, result.Sources[0].FatalError, "panicked")
	require.Len(t, fx.eventLog.named(events.EventSourceFailed), 1)
}

func TestRunJobPersistFailureFailsJob(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	fx.persister.err = errors.New("database unavailable")

	_, err := o.RunJob(context.Background(), []string{"src-a"}, 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database unavailable")
	require.Equal(t, JobStatusFailed, fx.jobStore.lastStatus())
}

func TestRunJobVerifyFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	fx.verifier.err = errors.New("count query timed out")

	result, err := o.RunJob(context.Background(), []string{"src-a"}, 2)
	require.NoError(t, err)
	require.Equal(t, JobStatusSuccessful, result.Job.Status)
	require.False(t, result.Reconciliation.Clean)
	require.Len(t, fx.eventLog.named(events.EventReconcileMismatch), 1)
}

func TestBuildCandidatesCapsAtTargetPlusMargin(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestratorFixture(echoRunner())
	job := Job{ID: "job-1", ArticlesPerSource: 4}
	items := feedItems(10)
	items[2].URL = ""

	// Default margin 1: first 5 items survive truncation, one lacks a URL.
	candidates, err := o.buildCandidates(job, Source{ID: "src-a", Name: "Alpha News"}, items)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	for _, cand := range candidates {
		require.Equal(t, "job-1", cand.JobID)
		require.Equal(t, "src-a", cand.SourceID)
		require.NotEmpty(t, cand.TrackingID)
		require.NotEmpty(t, cand.URL)
	}

	// A per-source margin overrides the default.
	candidates, err = o.buildCandidates(job, Source{ID: "src-a", CandidateMargin: 4}, feedItems(10))
	require.NoError(t, err)
	require.Len(t, candidates, 8)
}

func TestBuildCandidatesPropagatesIDFailure(t *testing.T) {
	t.Parallel()

	o, fx := newOrchestratorFixture(echoRunner())
	fx.idGen.err = errors.New("entropy exhausted")

	_, err := o.buildCandidates(Job{ID: "job-1", ArticlesPerSource: 2}, Source{ID: "src-a"}, feedItems(3))
	require.Error(t, err)
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, JobStatusSuccessful, deriveStatus(3, 0))
	require.Equal(t, JobStatusPartial, deriveStatus(3, 1))
	require.Equal(t, JobStatusPartial, deriveStatus(3, 2))
	require.Equal(t, JobStatusFailed, deriveStatus(3, 3))
}
