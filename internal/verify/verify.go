// Package verify reconciles persistence claims against durable storage. It
// re-queries the article store after a job's persistence phase and compares
// what the persister said it wrote with what is actually there.
package verify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/engine"
	"github.com/newsloom/scraper/internal/events"
	"github.com/newsloom/scraper/internal/metrics"
)

// sampleLimit bounds how many row IDs a mismatch event carries.
const sampleLimit = 5

// Verifier implements engine.Verifier against an ArticleStore.
type Verifier struct {
	store    engine.ArticleStore
	eventLog events.Log
	clock    engine.Clock
	logger   *zap.Logger
}

// New constructs a Verifier.
func New(store engine.ArticleStore, eventLog events.Log, clock engine.Clock, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{store: store, eventLog: eventLog, clock: clock, logger: logger}
}

// Verify counts rows per source directly from storage and compares them with
// the persister's claims. A mismatch is recorded at error level with both
// numbers and a sample of actual row IDs; it never mutates stored data.
func (v *Verifier) Verify(ctx context.Context, job engine.Job, results []engine.SourceResult, claims []engine.PersistenceResult) (engine.ReconciliationReport, error) {
	report := engine.ReconciliationReport{JobID: job.ID, Clean: true}

	extracted := make(map[string]int, len(results))
	for _, r := range results {
		extracted[r.SourceID] = len(r.Articles)
	}

	for _, claim := range claims {
		actual, err := v.store.CountBySource(ctx, job.ID, claim.SourceID)
		if err != nil {
			return engine.ReconciliationReport{}, fmt.Errorf("count articles for source %s: %w", claim.SourceID, err)
		}
		rec := engine.SourceReconciliation{
			SourceID:  claim.SourceID,
			Extracted: extracted[claim.SourceID],
			Claimed:   claim.SavedCount,
			Actual:    actual,
			Mismatch:  actual != claim.SavedCount,
		}
		if !rec.Mismatch {
			report.Sources = append(report.Sources, rec)
			v.appendEvent(ctx, events.Event{
				JobID:    job.ID,
				SourceID: claim.SourceID,
				Level:    events.LevelInfo,
				Phase:    events.PhaseReconciliation,
				Name:     events.EventReconcileClean,
				Message:  "persisted count matches storage",
				Fields:   map[string]any{"count": actual},
				TS:       v.clock.Now(),
			})
			continue
		}

		report.Clean = false
		metrics.ObserveReconciliationMismatch(claim.SourceID)
		sample, sampleErr := v.store.ListIDsBySource(ctx, job.ID, claim.SourceID, sampleLimit)
		if sampleErr != nil {
			v.logger.Warn("mismatch sample query failed",
				zap.String("job_id", job.ID),
				zap.String("source_id", claim.SourceID),
				zap.Error(sampleErr),
			)
		}
		rec.SampleIDs = sample
		report.Sources = append(report.Sources, rec)
		v.logger.Error("reconciliation mismatch",
			zap.String("job_id", job.ID),
			zap.String("source_id", claim.SourceID),
			zap.Int("claimed", claim.SavedCount),
			zap.Int("actual", actual),
		)
		v.appendEvent(ctx, events.Event{
			JobID:    job.ID,
			SourceID: claim.SourceID,
			Level:    events.LevelError,
			Phase:    events.PhaseReconciliation,
			Name:     events.EventReconcileMismatch,
			Message:  fmt.Sprintf("claimed %d persisted articles but storage holds %d", claim.SavedCount, actual),
			Fields: map[string]any{
				"claimed":    claim.SavedCount,
				"actual":     actual,
				"sample_ids": sample,
			},
			TS: v.clock.Now(),
		})
	}
	return report, nil
}

func (v *Verifier) appendEvent(ctx context.Context, evt events.Event) {
	if v.eventLog == nil {
		return
	}
	if err := v.eventLog.Append(ctx, evt); err != nil {
		v.logger.Warn("event append failed", zap.String("event", evt.Name), zap.Error(err))
	}
}
