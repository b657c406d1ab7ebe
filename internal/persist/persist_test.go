package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/engine"
	"github.com/newsloom/scraper/internal/events"
)

type fakeArticleStore struct {
	mu       sync.Mutex
	inserted [][]engine.PersistedArticle
	outcomes map[string][]engine.InsertOutcome
	err      error
}

func (f *fakeArticleStore) InsertArticles(_ context.Context, articles []engine.PersistedArticle) ([]engine.InsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inserted = append(f.inserted, articles)
	if len(articles) == 0 {
		return nil, nil
	}
	if out, ok := f.outcomes[articles[0].SourceID]; ok {
		return out, nil
	}
	out := make([]engine.InsertOutcome, len(articles))
	for i := range out {
		out[i] = engine.InsertOutcome{Status: engine.InsertSaved}
	}
	return out, nil
}

func (f *fakeArticleStore) CountBySource(context.Context, string, string) (int, error) {
	return 0, nil
}

func (f *fakeArticleStore) ListIDsBySource(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, payload)
	return fmt.Sprintf("msg-%d", len(f.payloads)), nil
}

type fakeEventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeEventLog) Append(_ context.Context, evt events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeEventLog) ListByJob(context.Context, string) ([]events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.events...), nil
}

func (f *fakeEventLog) named(name string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, evt := range f.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("hash-%d", len(data)), nil
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("id-%04d", f.n), nil
}

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

func newTestPersister(store *fakeArticleStore, pub *fakePublisher, log *fakeEventLog) *Persister {
	return New(
		store,
		pub,
		log,
		fakeHasher{},
		&fakeIDGen{},
		fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		Config{Topic: "articles"},
		zap.NewNop(),
	)
}

func makeArticles(jobID, sourceID string, n int) []engine.ExtractedArticle {
	out := make([]engine.ExtractedArticle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, engine.ExtractedArticle{
			TrackingID: fmt.Sprintf("%s-trk-%d", sourceID, i),
			JobID:      jobID,
			SourceID:   sourceID,
			URL:        fmt.Sprintf("https://example.com/%s/%d", sourceID, i),
			Title:      fmt.Sprintf("Article %d", i),
			Body:       "body text",
		})
	}
	return out
}

func TestPersistTruncatesToRequestedCount(t *testing.T) {
	store := &fakeArticleStore{}
	log := &fakeEventLog{}
	p := newTestPersister(store, &fakePublisher{}, log)

	job := engine.Job{ID: "job-1", ArticlesPerSource: 3}
	results := []engine.SourceResult{{SourceID: "src-a", Articles: makeArticles("job-1", "src-a", 5)}}

	claims, err := p.Persist(context.Background(), job, results)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, 3, claims[0].SavedCount)
	require.Equal(t, 2, claims[0].CappedCount)

	require.Len(t, store.inserted, 1)
	require.Len(t, store.inserted[0], 3)
	// First-N by extraction order: the first three tracking IDs survive.
	require.Equal(t, "src-a-trk-0", store.inserted[0][0].TrackingID)
	require.Equal(t, "src-a-trk-2", store.inserted[0][2].TrackingID)

	capped := log.named(events.EventArticleCapped)
	require.Len(t, capped, 2)
	require.Equal(t, "src-a-trk-3", capped[0].TrackingID)
	require.Equal(t, "src-a-trk-4", capped[1].TrackingID)
}

func TestPersistCountsDuplicatesAndFailures(t *testing.T) {
	store := &fakeArticleStore{
		outcomes: map[string][]engine.InsertOutcome{
			"src-a": {
				{Status: engine.InsertSaved},
				{Status: engine.InsertDuplicate},
				{Status: engine.InsertFailed, Err: "null constraint"},
				{Status: engine.InsertSaved},
			},
		},
	}
	log := &fakeEventLog{}
	pub := &fakePublisher{}
	p := newTestPersister(store, pub, log)

	job := engine.Job{ID: "job-1", ArticlesPerSource: 10}
	results := []engine.SourceResult{{SourceID: "src-a", Articles: makeArticles("job-1", "src-a", 4)}}

	claims, err := p.Persist(context.Background(), job, results)
	require.NoError(t, err)
	require.Equal(t, 2, claims[0].SavedCount)
	require.Equal(t, 1, claims[0].DuplicatesSkipped)
	require.Equal(t, 1, claims[0].FailedCount)

	require.Len(t, log.named(events.EventArticlePersisted), 2)
	require.Len(t, log.named(events.EventArticleSkipped), 1)
	require.Len(t, log.named(events.EventPersistFailed), 1)

	// Only saved articles are announced downstream.
	require.Len(t, pub.payloads, 2)
}

func TestPersistSourceBatchFailureIsIsolated(t *testing.T) {
	boom := errors.New("connection reset")
	okStore := &fakeArticleStore{}
	p := newTestPersister(okStore, &fakePublisher{}, &fakeEventLog{})

	// Swap in a store that fails the first source's batch but not the second.
	failing := &selectiveStore{inner: okStore, failSource: "src-a", err: boom}
	p.store = failing

	job := engine.Job{ID: "job-1", ArticlesPerSource: 10}
	results := []engine.SourceResult{
		{SourceID: "src-a", Articles: makeArticles("job-1", "src-a", 2)},
		{SourceID: "src-b", Articles: makeArticles("job-1", "src-b", 2)},
	}

	claims, err := p.Persist(context.Background(), job, results)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	require.Equal(t, 0, claims[0].SavedCount)
	require.Equal(t, 2, claims[0].FailedCount)
	require.Equal(t, 2, claims[1].SavedCount)
}

type selectiveStore struct {
	inner      *fakeArticleStore
	failSource string
	err        error
}

func (s *selectiveStore) InsertArticles(ctx context.Context, articles []engine.PersistedArticle) ([]engine.InsertOutcome, error) {
	if len(articles) > 0 && articles[0].SourceID == s.failSource {
		return nil, s.err
	}
	return s.inner.InsertArticles(ctx, articles)
}

func (s *selectiveStore) CountBySource(ctx context.Context, jobID, sourceID string) (int, error) {
	return s.inner.CountBySource(ctx, jobID, sourceID)
}

func (s *selectiveStore) ListIDsBySource(ctx context.Context, jobID, sourceID string, limit int) ([]string, error) {
	return s.inner.ListIDsBySource(ctx, jobID, sourceID, limit)
}

func TestPersistPublisherFailureDoesNotChangeClaim(t *testing.T) {
	store := &fakeArticleStore{}
	pub := &fakePublisher{err: errors.New("topic unavailable")}
	p := newTestPersister(store, pub, &fakeEventLog{})

	job := engine.Job{ID: "job-1", ArticlesPerSource: 10}
	results := []engine.SourceResult{{SourceID: "src-a", Articles: makeArticles("job-1", "src-a", 2)}}

	claims, err := p.Persist(context.Background(), job, results)
	require.NoError(t, err)
	require.Equal(t, 2, claims[0].SavedCount)
	require.Equal(t, 0, claims[0].FailedCount)
}

func TestPersistBuildsRowsWithHashAndIDs(t *testing.T) {
	store := &fakeArticleStore{}
	p := newTestPersister(store, &fakePublisher{}, &fakeEventLog{})

	job := engine.Job{ID: "job-1", ArticlesPerSource: 10}
	articles := makeArticles("job-1", "src-a", 1)
	articles[0].Body = "hello world"
	results := []engine.SourceResult{{SourceID: "src-a", Articles: articles}}

	_, err := p.Persist(context.Background(), job, results)
	require.NoError(t, err)

	row := store.inserted[0][0]
	require.Equal(t, "id-0001", row.ID)
	require.Equal(t, fmt.Sprintf("hash-%d", len("hello world")), row.ContentHash)
	require.Equal(t, "src-a-trk-0", row.TrackingID)
	require.Equal(t, "https://example.com/src-a/0", row.SourceURL)
	require.False(t, row.CreatedAt.IsZero())
}
