// Package engine defines the core types and interfaces of the scraping
// engine: jobs, sources, candidates, extracted articles, and the
// orchestrator/worker pipeline that moves them from feed to storage.
package engine

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store. A job in a terminal state
// (successful, partial, failed) is never mutated again.
const (
	JobStatusNew        JobStatus = "new"
	JobStatusInProgress JobStatus = "in-progress"
	JobStatusSuccessful JobStatus = "successful"
	JobStatusPartial    JobStatus = "partial"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccessful, JobStatusPartial, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job is the metadata persisted for each scrape request.
type Job struct {
	ID                string      `json:"id"`
	SourceIDs         []string    `json:"source_ids"`
	ArticlesPerSource int         `json:"articles_per_source"`
	Status            JobStatus   `json:"status"`
	Created           time.Time   `json:"created_at"`
	Completed         *time.Time  `json:"completed_at,omitempty"`
	Counters          JobCounters `json:"counters"`
}

// JobCounters aggregates extraction and error totals across sources.
type JobCounters struct {
	ArticlesExtracted int `json:"articles_extracted"`
	ArticlesPersisted int `json:"articles_persisted"`
	Errors            int `json:"errors"`
}

// Source describes one configured news source. Sources are owned by the
// source registry and read-only to the engine.
type Source struct {
	ID              string        `json:"id" mapstructure:"id"`
	Name            string        `json:"name" mapstructure:"name"`
	FeedURL         string        `json:"feed_url" mapstructure:"feed_url"`
	Delay           time.Duration `json:"delay" mapstructure:"delay"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	UserAgent       string        `json:"user_agent" mapstructure:"user_agent"`
	RespectRobots   bool          `json:"respect_robots" mapstructure:"respect_robots"`
	CandidateMargin int           `json:"candidate_margin" mapstructure:"candidate_margin"`
}

// FeedItem is the lightweight metadata the feed adapter yields per entry.
type FeedItem struct {
	Title       string
	URL         string
	PublishedAt *time.Time
}

// Candidate is one article URL awaiting extraction. The tracking ID is
// generated at creation and threaded through every log event for the
// candidate's lifecycle. Source identity is denormalized onto the candidate
// so results are attributed by the candidate itself, never by which worker
// produced them.
type Candidate struct {
	TrackingID  string
	JobID       string
	SourceID    string
	SourceName  string
	URL         string
	FeedTitle   string
	PublishedAt *time.Time
}

// ArticleFields is the output of the extraction strategy cascade for one
// document.
type ArticleFields struct {
	Title       string
	Body        string
	Author      string
	PublishedAt *time.Time
	Strategy    string
}

// ContentLength is the quality signal used by the cascade stop condition.
func (f ArticleFields) ContentLength() int {
	return len(f.Body)
}

// ExtractedArticle is the in-memory result for one candidate, produced by a
// crawl worker. It exists only until persistence runs.
type ExtractedArticle struct {
	TrackingID  string
	JobID       string
	SourceID    string
	SourceName  string
	URL         string
	Title       string
	Body        string
	Author      string
	PublishedAt *time.Time
	Strategy    string
	BlobURI     string
	ExtractedAt time.Time
}

// SourceResult collects one source's extraction outcome within a job.
// Articles are in extraction completion order, which determines which
// survive truncation.
type SourceResult struct {
	SourceID   string
	SourceName string
	Articles   []ExtractedArticle
	Errors     int
}

// PersistedArticle is one durable article row, unique on (source_id,
// source_url), append-only after insert.
type PersistedArticle struct {
	ID              string
	JobID           string
	SourceID        string
	SourceURL       string
	Title           string
	Content         string
	Author          string
	PublicationDate *time.Time
	ContentHash     string
	TrackingID      string
	CreatedAt       time.Time
}

// PersistenceResult reports exactly what the persistence layer did for one
// source.
type PersistenceResult struct {
	SourceID          string `json:"source_id"`
	SavedCount        int    `json:"saved_count"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
	CappedCount       int    `json:"capped_count"`
	FailedCount       int    `json:"failed_count"`
}

// SourceReconciliation compares persistence claims against durable reality
// for one source.
type SourceReconciliation struct {
	SourceID  string   `json:"source_id"`
	Extracted int      `json:"extracted_count"`
	Claimed   int      `json:"claimed_count"`
	Actual    int      `json:"actual_count"`
	SampleIDs []string `json:"sample_ids,omitempty"`
	Mismatch  bool     `json:"mismatch"`
}

// ReconciliationReport is the per-job output of the verification pass. It is
// always recomputed from storage, never cached.
type ReconciliationReport struct {
	JobID   string                 `json:"job_id"`
	Sources []SourceReconciliation `json:"sources"`
	Clean   bool                   `json:"clean"`
}

// SourceOutcome is the per-source summary recorded on job completion and
// returned by the status API.
type SourceOutcome struct {
	SourceID    string            `json:"source_id"`
	SourceName  string            `json:"source_name"`
	Extracted   int               `json:"extracted"`
	Errors      int               `json:"errors"`
	FatalError  string            `json:"fatal_error,omitempty"`
	Persistence PersistenceResult `json:"persistence"`
}

// Fatal reports whether the source task itself failed (as opposed to
// individual candidates failing).
func (o SourceOutcome) Fatal() bool {
	return o.FatalError != ""
}

// JobResult is returned by the orchestrator once every source task has
// settled and persistence plus verification have run.
type JobResult struct {
	Job            Job                  `json:"job"`
	Sources        []SourceOutcome      `json:"sources"`
	Reconciliation ReconciliationReport `json:"reconciliation"`
}

// FetchRequest captures everything needed to fetch one candidate URL.
type FetchRequest struct {
	JobID         string
	URL           string
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
