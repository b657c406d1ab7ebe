package engine

import (
	"context"
	"time"
)

// JobStore persists job metadata and per-source outcomes.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, counters JobCounters) error
	RecordSourceOutcome(ctx context.Context, jobID string, outcome SourceOutcome) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListSourceOutcomes(ctx context.Context, jobID string) ([]SourceOutcome, error)
}

// ArticleStore writes and queries durable article rows. InsertArticles must
// isolate per-article failures and treat source_url uniqueness violations as
// skips, not errors; the returned slice is parallel to the input. An error
// is returned only when the batch as a whole could not run.
type ArticleStore interface {
	InsertArticles(ctx context.Context, articles []PersistedArticle) ([]InsertOutcome, error)
	CountBySource(ctx context.Context, jobID, sourceID string) (int, error)
	ListIDsBySource(ctx context.Context, jobID, sourceID string, limit int) ([]string, error)
}

// InsertStatus is the fate of one article row.
type InsertStatus string

// Insert statuses. A duplicate source_url is a skip, never an error.
const (
	InsertSaved     InsertStatus = "saved"
	InsertDuplicate InsertStatus = "duplicate"
	InsertFailed    InsertStatus = "failed"
)

// InsertOutcome reports the fate of one article row in an InsertArticles
// batch.
type InsertOutcome struct {
	Status InsertStatus
	Err    string
}

// SourceRegistry resolves configured sources by ID. Read-only to the engine.
type SourceRegistry interface {
	Get(id string) (Source, bool)
}

// FeedLister is the input-adapter boundary: given a source it returns the
// candidate article entries from that source's feed.
type FeedLister interface {
	List(ctx context.Context, source Source) ([]FeedItem, error)
}

// Fetcher retrieves a single article document.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a fetched document into article fields.
type Extractor interface {
	Extract(document []byte, url string) (ArticleFields, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes article-persisted events downstream (at-least-once).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Persister writes extracted articles durably, enforcing the per-source cap
// and reporting exactly what was written.
type Persister interface {
	Persist(ctx context.Context, job Job, results []SourceResult) ([]PersistenceResult, error)
}

// Verifier re-queries durable storage after persistence and reconciles the
// claimed counts against reality.
type Verifier interface {
	Verify(ctx context.Context, job Job, results []SourceResult, claims []PersistenceResult) (ReconciliationReport, error)
}

// SourceRunner executes one source's crawl within a job.
type SourceRunner interface {
	Run(ctx context.Context, job Job, source Source, candidates []Candidate) (SourceResult, error)
}

// Hasher computes digests for duplicate detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and tracking IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
