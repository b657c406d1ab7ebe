package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newsloom/scraper/internal/events"
	"github.com/newsloom/scraper/internal/metrics"
)

// WorkerConfig controls CrawlWorker behavior.
type WorkerConfig struct {
	// FetchConcurrency bounds parallel fetches within one source task.
	FetchConcurrency int
	// BlobPrefix is prepended to archive object paths.
	BlobPrefix string
	// ContentType is used for archived documents.
	ContentType string
}

// CrawlWorker drives one source's candidate list through fetch and
// extraction. Every invocation of Run constructs its own crawl queue keyed
// by the (job, source) pair; no queue is ever shared between concurrently
// running source tasks.
type CrawlWorker struct {
	fetcher   Fetcher
	extractor Extractor
	blobStore BlobStore
	eventLog  events.Log
	clock     Clock
	retry     RetryPolicy
	cfg       WorkerConfig
	logger    *zap.Logger
}

// NewCrawlWorker constructs a CrawlWorker.
func NewCrawlWorker(
	fetcher Fetcher,
	extractor Extractor,
	blobStore BlobStore,
	eventLog events.Log,
	clock Clock,
	retry RetryPolicy,
	cfg WorkerConfig,
	logger *zap.Logger,
) *CrawlWorker {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 2
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrawlWorker{
		fetcher:   fetcher,
		extractor: extractor,
		blobStore: blobStore,
		eventLog:  eventLog,
		clock:     clock,
		retry:     retry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run processes the candidates for one (job, source) pair and returns the
// extracted articles in completion order. Candidate-level failures are
// logged and counted, never escalated; the returned error is reserved for
// failures that prevent the source task from running at all.
func (w *CrawlWorker) Run(ctx context.Context, job Job, source Source, candidates []Candidate) (SourceResult, error) {
	result := SourceResult{SourceID: source.ID, SourceName: source.Name}
	if w.fetcher == nil || w.extractor == nil {
		return result, errors.New("crawl worker missing fetcher or extractor")
	}
	if len(candidates) == 0 {
		return result, nil
	}

	queue := newCrawlQueue(job.ID, source.ID, len(candidates))
	defer w.releaseQueue(queue, job.ID, source.ID)

	for _, cand := range candidates {
		if err := queue.Enqueue(ctx, cand); err != nil {
			return result, fmt.Errorf("seed crawl queue %s: %w", queue.Key(), err)
		}
		w.appendEvent(ctx, events.Event{
			JobID:      job.ID,
			SourceID:   source.ID,
			TrackingID: cand.TrackingID,
			Level:      events.LevelDebug,
			Phase:      events.PhaseCrawl,
			Name:       events.EventCandidateQueued,
			Message:    "candidate queued for extraction",
			Fields:     map[string]any{"url": cand.URL, "queue": queue.Key()},
			TS:         w.clock.Now(),
		})
	}
	queue.Close()

	limiter := newPolitenessLimiter(source.Delay)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		errCount  int
		processed int
	)
	workers := w.cfg.FetchConcurrency
	if workers > len(candidates) {
		workers = len(candidates)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cand, err := queue.Dequeue(ctx)
				if errors.Is(err, errQueueDrained) {
					return
				}
				if err != nil {
					return
				}
				article, ok := w.processCandidate(ctx, job, source, cand, limiter)
				mu.Lock()
				processed++
				if ok {
					result.Articles = append(result.Articles, article)
				} else {
					errCount++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil && processed < len(candidates) {
		// Deadline teardown: unprocessed candidates count as errors, but the
		// articles extracted so far still stand.
		errCount += len(candidates) - processed
		w.logger.Warn("source task deadline exceeded",
			zap.String("job_id", job.ID),
			zap.String("source_id", source.ID),
			zap.Int("unprocessed", len(candidates)-processed),
		)
	}
	result.Errors = errCount
	return result, nil
}

func (w *CrawlWorker) processCandidate(
	ctx context.Context,
	job Job,
	source Source,
	cand Candidate,
	limiter *rate.Limiter,
) (ExtractedArticle, bool) {
	if cand.SourceID != source.ID {
		// Structural isolation should make this impossible; attribution by
		// the candidate's own identity is the second line of defense.
		w.logger.Error("candidate attributed to wrong source",
			zap.String("job_id", job.ID),
			zap.String("candidate_source", cand.SourceID),
			zap.String("worker_source", source.ID),
			zap.String("tracking_id", cand.TrackingID),
		)
		return ExtractedArticle{}, false
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return ExtractedArticle{}, false
		}
	}

	resp, err := w.fetchWithRetry(ctx, job, source, cand)
	if err != nil {
		metrics.ObserveCandidateFailed(source.ID, "fetch")
		w.appendEvent(ctx, events.Event{
			JobID:      job.ID,
			SourceID:   source.ID,
			TrackingID: cand.TrackingID,
			Level:      events.LevelWarn,
			Phase:      events.PhaseCrawl,
			Name:       events.EventFetchFailed,
			Message:    "candidate fetch failed",
			Fields:     map[string]any{"url": cand.URL, "error": err.Error()},
			TS:         w.clock.Now(),
		})
		return ExtractedArticle{}, false
	}
	metrics.ObserveFetch(source.ID, resp.StatusCode, resp.Duration)

	blobURI := w.archiveDocument(ctx, job, source, cand, resp.Body)

	fields, err := w.extractor.Extract(resp.Body, cand.URL)
	if err != nil {
		metrics.ObserveCandidateFailed(source.ID, "extraction")
		w.appendEvent(ctx, events.Event{
			JobID:      job.ID,
			SourceID:   source.ID,
			TrackingID: cand.TrackingID,
			Level:      events.LevelWarn,
			Phase:      events.PhaseExtraction,
			Name:       events.EventExtractionFailed,
			Message:    "extraction cascade exhausted",
			Fields:     map[string]any{"url": cand.URL, "error": err.Error()},
			TS:         w.clock.Now(),
		})
		return ExtractedArticle{}, false
	}

	article := ExtractedArticle{
		TrackingID:  cand.TrackingID,
		JobID:       cand.JobID,
		SourceID:    cand.SourceID,
		SourceName:  cand.SourceName,
		URL:         cand.URL,
		Title:       fields.Title,
		Body:        fields.Body,
		Author:      fields.Author,
		PublishedAt: fields.PublishedAt,
		Strategy:    fields.Strategy,
		BlobURI:     blobURI,
		ExtractedAt: w.clock.Now(),
	}
	if article.Title == "" {
		article.Title = cand.FeedTitle
	}
	if article.PublishedAt == nil {
		article.PublishedAt = cand.PublishedAt
	}
	metrics.ObserveArticleExtracted(source.ID, fields.Strategy)
	w.appendEvent(ctx, events.Event{
		JobID:      job.ID,
		SourceID:   source.ID,
		TrackingID: cand.TrackingID,
		Level:      events.LevelInfo,
		Phase:      events.PhaseExtraction,
		Name:       events.EventArticleExtracted,
		Message:    "article extracted",
		Fields: map[string]any{
			"url":            cand.URL,
			"strategy":       fields.Strategy,
			"content_length": fields.ContentLength(),
		},
		TS: w.clock.Now(),
	})
	return article, true
}

func (w *CrawlWorker) fetchWithRetry(ctx context.Context, job Job, source Source, cand Candidate) (FetchResponse, error) {
	req := FetchRequest{
		JobID:         job.ID,
		URL:           cand.URL,
		UserAgent:     source.UserAgent,
		Timeout:       source.Timeout,
		RespectRobots: source.RespectRobots,
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := w.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if w.retry == nil || !w.retry.ShouldRetry(err, attempt+1) {
			break
		}
		w.logger.Debug("retrying fetch",
			zap.String("url", cand.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !w.pause(ctx, w.retry.Backoff(attempt)) {
			break
		}
	}
	return FetchResponse{}, lastErr
}

// archiveDocument writes the raw HTML to the blob store. Archive failures
// are logged and must never fail the candidate.
func (w *CrawlWorker) archiveDocument(ctx context.Context, job Job, source Source, cand Candidate, body []byte) string {
	if w.blobStore == nil {
		return ""
	}
	path := w.buildBlobPath(job.ID, source.ID, cand.TrackingID)
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, body)
	if err != nil {
		w.logger.Warn("archive write failed",
			zap.String("job_id", job.ID),
			zap.String("tracking_id", cand.TrackingID),
			zap.Error(err),
		)
		w.appendEvent(ctx, events.Event{
			JobID:      job.ID,
			SourceID:   source.ID,
			TrackingID: cand.TrackingID,
			Level:      events.LevelWarn,
			Phase:      events.PhaseCrawl,
			Name:       events.EventArchiveWriteFailed,
			Message:    "raw document archive failed",
			Fields:     map[string]any{"path": path, "error": err.Error()},
			TS:         w.clock.Now(),
		})
		return ""
	}
	return uri
}

func (w *CrawlWorker) buildBlobPath(jobID, sourceID, trackingID string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", jobID, sourceID, trackingID)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, jobID, sourceID, trackingID)
}

// releaseQueue closes the crawl queue. Teardown failures are caught and
// logged; they never override the task's extraction outcome.
func (w *CrawlWorker) releaseQueue(queue *crawlQueue, jobID, sourceID string) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("crawl queue teardown panicked",
				zap.String("job_id", jobID),
				zap.String("source_id", sourceID),
				zap.Any("panic", rec),
			)
		}
	}()
	queue.Close()
}

func (w *CrawlWorker) appendEvent(ctx context.Context, evt events.Event) {
	if w.eventLog == nil {
		return
	}
	if err := w.eventLog.Append(ctx, evt); err != nil {
		w.logger.Warn("event append failed", zap.String("event", evt.Name), zap.Error(err))
	}
}

func (w *CrawlWorker) pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// newPolitenessLimiter converts the source's inter-request delay into a
// token bucket shared by the source task's fetch goroutines.
func newPolitenessLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
