// Package events defines the structured, append-only event log emitted by
// every stage of the scraping engine. Events are the sole observability
// artifact consumed by operators and the dashboard.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Level is the severity attached to an event.
type Level string

// Supported event levels.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Phase identifies which stage of the pipeline emitted an event.
type Phase string

// Supported pipeline phases.
const (
	PhaseJob            Phase = "job"
	PhaseCrawl          Phase = "crawl"
	PhaseExtraction     Phase = "extraction"
	PhasePersistence    Phase = "persistence"
	PhaseReconciliation Phase = "reconciliation"
)

// Lifecycle event names threaded through candidate tracking IDs. A tracking
// ID appears in at most one terminal extraction event and at most one
// persistence event.
const (
	EventCandidateQueued    = "candidate_queued"
	EventArticleExtracted   = "article_extracted"
	EventExtractionFailed   = "extraction_failed"
	EventFetchFailed        = "fetch_failed"
	EventArticlePersisted   = "article_persisted"
	EventArticleSkipped     = "article_skipped"
	EventArticleCapped      = "article_capped"
	EventPersistFailed      = "persist_failed"
	EventJobStarted         = "job_started"
	EventJobCompleted       = "job_completed"
	EventSourceStarted      = "source_started"
	EventSourceCompleted    = "source_completed"
	EventSourceFailed       = "source_failed"
	EventReconcileClean     = "reconciliation_clean"
	EventReconcileMismatch  = "reconciliation_mismatch"
	EventArchiveWriteFailed = "archive_write_failed"
)

// Event is one immutable record in the job event log.
type Event struct {
	JobID      string         `json:"job_id"`
	SourceID   string         `json:"source_id,omitempty"`
	TrackingID string         `json:"tracking_id,omitempty"`
	Level      Level          `json:"level"`
	Phase      Phase          `json:"phase"`
	Name       string         `json:"event"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
	TS         time.Time      `json:"timestamp"`
}

// Validate performs coarse validation before an event is appended.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Name == "" {
		return errors.New("event name is required")
	}
	switch e.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	switch e.Phase {
	case PhaseJob, PhaseCrawl, PhaseExtraction, PhasePersistence, PhaseReconciliation:
	default:
		return fmt.Errorf("unknown phase %q", e.Phase)
	}
	return nil
}

// Log is the append-only event sink plus the query surface used by the
// status API. Implementations must preserve append order per job.
type Log interface {
	Append(ctx context.Context, evt Event) error
	ListByJob(ctx context.Context, jobID string) ([]Event, error)
}
