package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newsloom/scraper/internal/events"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type fakeIDGen struct {
	mu  sync.Mutex
	n   int
	err error
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

type fakeEventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *fakeEventLog) Append(_ context.Context, evt events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *fakeEventLog) ListByJob(_ context.Context, jobID string) ([]events.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, evt := range l.events {
		if evt.JobID == jobID {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (l *fakeEventLog) named(name string) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, evt := range l.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

type fakeFetcher struct {
	mu        sync.Mutex
	body      []byte
	failFirst map[string]int
	attempts  map[string]int
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[req.URL]++
	if f.failFirst[req.URL] >= f.attempts[req.URL] {
		return FetchResponse{}, fmt.Errorf("connection reset fetching %s", req.URL)
	}
	return FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       f.body,
		Duration:   5 * time.Millisecond,
	}, nil
}

func (f *fakeFetcher) attemptsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

type fetcherFunc func(ctx context.Context, req FetchRequest) (FetchResponse, error)

func (f fetcherFunc) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	return f(ctx, req)
}

type fakeExtractor struct {
	perURL   map[string]ArticleFields
	failURLs map[string]bool
}

func (e *fakeExtractor) Extract(document []byte, url string) (ArticleFields, error) {
	if e.failURLs[url] {
		return ArticleFields{}, errors.New("no strategy produced content")
	}
	if fields, ok := e.perURL[url]; ok {
		return fields, nil
	}
	return ArticleFields{Title: "Extracted Title", Body: string(document), Strategy: "selectors"}, nil
}

type fakeBlobStore struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (b *fakeBlobStore) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.paths = append(b.paths, path)
	return "mem://archive/" + path, nil
}

type fakeRegistry struct {
	sources map[string]Source
}

func (r *fakeRegistry) Get(id string) (Source, bool) {
	src, ok := r.sources[id]
	return src, ok
}

type fakeFeeds struct {
	items map[string][]FeedItem
	errs  map[string]error
}

func (f *fakeFeeds) List(_ context.Context, source Source) ([]FeedItem, error) {
	if err := f.errs[source.ID]; err != nil {
		return nil, err
	}
	return f.items[source.ID], nil
}

type runnerFunc func(ctx context.Context, job Job, source Source, candidates []Candidate) (SourceResult, error)

func (f runnerFunc) Run(ctx context.Context, job Job, source Source, candidates []Candidate) (SourceResult, error) {
	return f(ctx, job, source, candidates)
}

// fakePersister claims every article saved unless overridden.
type fakePersister struct {
	mu     sync.Mutex
	got    []SourceResult
	claims []PersistenceResult
	err    error
}

func (p *fakePersister) Persist(_ context.Context, _ Job, results []SourceResult) ([]PersistenceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, results...)
	if p.err != nil {
		return nil, p.err
	}
	if p.claims != nil {
		return p.claims, nil
	}
	claims := make([]PersistenceResult, 0, len(results))
	for _, res := range results {
		claims = append(claims, PersistenceResult{SourceID: res.SourceID, SavedCount: len(res.Articles)})
	}
	return claims, nil
}

// fakeVerifier reports a clean reconciliation unless overridden.
type fakeVerifier struct {
	report *ReconciliationReport
	err    error
}

func (v *fakeVerifier) Verify(_ context.Context, job Job, _ []SourceResult, claims []PersistenceResult) (ReconciliationReport, error) {
	if v.err != nil {
		return ReconciliationReport{}, v.err
	}
	if v.report != nil {
		return *v.report, nil
	}
	report := ReconciliationReport{JobID: job.ID, Clean: true}
	for _, claim := range claims {
		report.Sources = append(report.Sources, SourceReconciliation{
			SourceID: claim.SourceID,
			Claimed:  claim.SavedCount,
			Actual:   claim.SavedCount,
		})
	}
	return report, nil
}

type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[string]Job
	statuses  []JobStatus
	outcomes  map[string][]SourceOutcome
	createErr error
	updateErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:     map[string]Job{},
		outcomes: map[string][]SourceOutcome{},
	}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStore) UpdateJobStatus(_ context.Context, jobID string, status JobStatus, counters JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Status = status
	job.Counters = counters
	s.jobs[jobID] = job
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeJobStore) RecordSourceOutcome(_ context.Context, jobID string, outcome SourceOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[jobID] = append(s.outcomes[jobID], outcome)
	return nil
}

func (s *fakeJobStore) GetJob(_ context.Context, jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("job %s not found", jobID)
	}
	return job, nil
}

func (s *fakeJobStore) ListSourceOutcomes(_ context.Context, jobID string) ([]SourceOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SourceOutcome(nil), s.outcomes[jobID]...), nil
}

func (s *fakeJobStore) lastStatus() JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}
