// Package persist implements the persistence layer: per-source truncation to
// the requested article count, duplicate detection, transactional insert via
// the article store, and downstream publishing of saved articles.
package persist

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/engine"
	"github.com/newsloom/scraper/internal/events"
	"github.com/newsloom/scraper/internal/metrics"
)

// Config controls Persister behavior.
type Config struct {
	// Topic is the downstream topic saved articles are announced on; empty
	// disables publishing.
	Topic string
}

// Persister writes extracted articles durably. It is the enforcement point
// for the per-source cap: no matter how many candidates extracted, at most
// job.ArticlesPerSource rows are written per source.
type Persister struct {
	store     engine.ArticleStore
	publisher engine.Publisher
	eventLog  events.Log
	hasher    engine.Hasher
	idGen     engine.IDGenerator
	clock     engine.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Persister.
func New(
	store engine.ArticleStore,
	publisher engine.Publisher,
	eventLog events.Log,
	hasher engine.Hasher,
	idGen engine.IDGenerator,
	clock engine.Clock,
	cfg Config,
	logger *zap.Logger,
) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		store:     store,
		publisher: publisher,
		eventLog:  eventLog,
		hasher:    hasher,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Persist writes each source's articles independently and reports exactly
// what happened per source. A failing source batch yields a claim with
// FailedCount set; it never aborts the other sources.
func (p *Persister) Persist(ctx context.Context, job engine.Job, results []engine.SourceResult) ([]engine.PersistenceResult, error) {
	claims := make([]engine.PersistenceResult, 0, len(results))
	for _, result := range results {
		claim := p.persistSource(ctx, job, result)
		claims = append(claims, claim)
	}
	return claims, nil
}

func (p *Persister) persistSource(ctx context.Context, job engine.Job, result engine.SourceResult) engine.PersistenceResult {
	claim := engine.PersistenceResult{SourceID: result.SourceID}

	articles := result.Articles
	if len(articles) > job.ArticlesPerSource {
		capped := articles[job.ArticlesPerSource:]
		articles = articles[:job.ArticlesPerSource]
		claim.CappedCount = len(capped)
		for _, article := range capped {
			p.appendEvent(ctx, events.Event{
				JobID:      job.ID,
				SourceID:   result.SourceID,
				TrackingID: article.TrackingID,
				Level:      events.LevelInfo,
				Phase:      events.PhasePersistence,
				Name:       events.EventArticleCapped,
				Message:    "article beyond requested count, not persisted",
				Fields:     map[string]any{"url": article.URL, "cap": job.ArticlesPerSource},
				TS:         p.clock.Now(),
			})
		}
	}
	if len(articles) == 0 {
		return claim
	}

	rows, err := p.buildRows(job, articles)
	if err != nil {
		p.logger.Error("build article rows failed",
			zap.String("job_id", job.ID),
			zap.String("source_id", result.SourceID),
			zap.Error(err),
		)
		claim.FailedCount = len(articles)
		return claim
	}

	outcomes, err := p.store.InsertArticles(ctx, rows)
	if err != nil {
		// Batch-level failure: the source's transaction never committed, so
		// nothing is visible. Claim zero saved and flag every row.
		p.logger.Error("article batch insert failed",
			zap.String("job_id", job.ID),
			zap.String("source_id", result.SourceID),
			zap.Error(err),
		)
		claim.FailedCount = len(rows)
		p.appendEvent(ctx, events.Event{
			JobID:    job.ID,
			SourceID: result.SourceID,
			Level:    events.LevelError,
			Phase:    events.PhasePersistence,
			Name:     events.EventPersistFailed,
			Message:  fmt.Sprintf("source batch insert failed: %v", err),
			Fields:   map[string]any{"articles": len(rows)},
			TS:       p.clock.Now(),
		})
		return claim
	}

	for i, outcome := range outcomes {
		row := rows[i]
		switch outcome.Status {
		case engine.InsertSaved:
			claim.SavedCount++
			p.appendEvent(ctx, events.Event{
				JobID:      job.ID,
				SourceID:   result.SourceID,
				TrackingID: row.TrackingID,
				Level:      events.LevelInfo,
				Phase:      events.PhasePersistence,
				Name:       events.EventArticlePersisted,
				Message:    "article persisted",
				Fields:     map[string]any{"url": row.SourceURL, "content_hash": row.ContentHash},
				TS:         p.clock.Now(),
			})
			p.publishSaved(ctx, job, row)
		case engine.InsertDuplicate:
			claim.DuplicatesSkipped++
			p.appendEvent(ctx, events.Event{
				JobID:      job.ID,
				SourceID:   result.SourceID,
				TrackingID: row.TrackingID,
				Level:      events.LevelInfo,
				Phase:      events.PhasePersistence,
				Name:       events.EventArticleSkipped,
				Message:    "article already persisted, skipped",
				Fields:     map[string]any{"url": row.SourceURL},
				TS:         p.clock.Now(),
			})
		case engine.InsertFailed:
			claim.FailedCount++
			p.appendEvent(ctx, events.Event{
				JobID:      job.ID,
				SourceID:   result.SourceID,
				TrackingID: row.TrackingID,
				Level:      events.LevelWarn,
				Phase:      events.PhasePersistence,
				Name:       events.EventPersistFailed,
				Message:    "article insert failed",
				Fields:     map[string]any{"url": row.SourceURL, "error": outcome.Err},
				TS:         p.clock.Now(),
			})
		}
	}

	metrics.ObserveArticlesPersisted(result.SourceID, claim.SavedCount)
	metrics.ObserveDuplicatesSkipped(result.SourceID, claim.DuplicatesSkipped)
	return claim
}

func (p *Persister) buildRows(job engine.Job, articles []engine.ExtractedArticle) ([]engine.PersistedArticle, error) {
	rows := make([]engine.PersistedArticle, 0, len(articles))
	for _, article := range articles {
		id, err := p.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate article id: %w", err)
		}
		hash, err := p.hasher.Hash([]byte(article.Body))
		if err != nil {
			return nil, fmt.Errorf("hash article body: %w", err)
		}
		rows = append(rows, engine.PersistedArticle{
			ID:              id,
			JobID:           article.JobID,
			SourceID:        article.SourceID,
			SourceURL:       article.URL,
			Title:           article.Title,
			Content:         article.Body,
			Author:          article.Author,
			PublicationDate: article.PublishedAt,
			ContentHash:     hash,
			TrackingID:      article.TrackingID,
			CreatedAt:       p.clock.Now(),
		})
	}
	return rows, nil
}

// publishSaved announces a saved article downstream. Delivery is
// at-least-once; failures are logged and never change the claim.
func (p *Persister) publishSaved(ctx context.Context, job engine.Job, row engine.PersistedArticle) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"job_id":       job.ID,
		"source_id":    row.SourceID,
		"source_url":   row.SourceURL,
		"tracking_id":  row.TrackingID,
		"content_hash": row.ContentHash,
		"timestamp":    p.clock.Now().Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
		p.logger.Warn("article publish failed",
			zap.String("job_id", job.ID),
			zap.String("source_url", row.SourceURL),
			zap.Error(err),
		)
	}
}

func (p *Persister) appendEvent(ctx context.Context, evt events.Event) {
	if p.eventLog == nil {
		return
	}
	if err := p.eventLog.Append(ctx, evt); err != nil {
		p.logger.Warn("event append failed", zap.String("event", evt.Name), zap.Error(err))
	}
}
