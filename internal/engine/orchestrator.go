package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/events"
	"github.com/newsloom/scraper/internal/metrics"
)

// ErrInvalidRequest marks trigger requests rejected before a job is created.
var ErrInvalidRequest = errors.New("invalid job request")

// OrchestratorConfig controls job-level limits and per-source deadlines.
type OrchestratorConfig struct {
	// MaxArticlesPerSource is the upper bound accepted from trigger requests.
	MaxArticlesPerSource int
	// DefaultCandidateMargin is the number of extra candidates queued beyond
	// the target when a source does not configure its own margin.
	DefaultCandidateMargin int
	// SourceTimeout bounds each source task independently; zero disables it.
	SourceTimeout time.Duration
}

// Orchestrator runs scrape jobs: it fans out one crawl task per source,
// waits for every task to settle, then drives persistence and verification.
type Orchestrator struct {
	registry  SourceRegistry
	feeds     FeedLister
	runner    SourceRunner
	persister Persister
	verifier  Verifier
	jobStore  JobStore
	eventLog  events.Log
	idGen     IDGenerator
	clock     Clock
	cfg       OrchestratorConfig
	logger    *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	registry SourceRegistry,
	feeds FeedLister,
	runner SourceRunner,
	persister Persister,
	verifier Verifier,
	jobStore JobStore,
	eventLog events.Log,
	idGen IDGenerator,
	clock Clock,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxArticlesPerSource <= 0 {
		cfg.MaxArticlesPerSource = 100
	}
	if cfg.DefaultCandidateMargin < 0 {
		cfg.DefaultCandidateMargin = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:  registry,
		feeds:     feeds,
		runner:    runner,
		persister: persister,
		verifier:  verifier,
		jobStore:  jobStore,
		eventLog:  eventLog,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// sourceTask pairs the per-source summary with the raw extraction result.
// Each entry of the task slice is written only by its own goroutine.
type sourceTask struct {
	outcome SourceOutcome
	result  SourceResult
}

// PrepareJob validates a trigger request and creates the job record in
// status new. Execution happens separately so callers can acknowledge the
// job ID before the crawl starts.
func (o *Orchestrator) PrepareJob(ctx context.Context, sourceIDs []string, articlesPerSource int) (Job, error) {
	if len(sourceIDs) == 0 {
		return Job{}, fmt.Errorf("%w: source list is empty", ErrInvalidRequest)
	}
	if articlesPerSource < 1 || articlesPerSource > o.cfg.MaxArticlesPerSource {
		return Job{}, fmt.Errorf("%w: articles per source must be in [1, %d]",
			ErrInvalidRequest, o.cfg.MaxArticlesPerSource)
	}

	jobID, err := o.idGen.NewID()
	if err != nil {
		return Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := Job{
		ID:                jobID,
		SourceIDs:         append([]string(nil), sourceIDs...),
		ArticlesPerSource: articlesPerSource,
		Status:            JobStatusNew,
		Created:           o.clock.Now(),
	}
	if err := o.jobStore.CreateJob(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// RunJob validates, creates, and executes a job synchronously.
func (o *Orchestrator) RunJob(ctx context.Context, sourceIDs []string, articlesPerSource int) (JobResult, error) {
	job, err := o.PrepareJob(ctx, sourceIDs, articlesPerSource)
	if err != nil {
		return JobResult{}, err
	}
	return o.ExecuteJob(ctx, job)
}

// ExecuteJob runs every source task concurrently and independently, then
// settles the job only after all tasks have finished. A failure in one
// source never cancels or corrupts another.
func (o *Orchestrator) ExecuteJob(ctx context.Context, job Job) (JobResult, error) {
	job.Status = JobStatusInProgress
	if err := o.jobStore.UpdateJobStatus(ctx, job.ID, job.Status, job.Counters); err != nil {
		return JobResult{}, fmt.Errorf("mark job in progress: %w", err)
	}
	o.appendEvent(ctx, events.Event{
		JobID:   job.ID,
		Level:   events.LevelInfo,
		Phase:   events.PhaseJob,
		Name:    events.EventJobStarted,
		Message: "job started",
		Fields:  map[string]any{"sources": job.SourceIDs, "articles_per_source": job.ArticlesPerSource},
		TS:      o.clock.Now(),
	})

	tasks := make([]sourceTask, len(job.SourceIDs))
	var wg sync.WaitGroup
	for i, sourceID := range job.SourceIDs {
		wg.Add(1)
		go func(slot int, id string) {
			defer wg.Done()
			metrics.IncActiveSourceTasks()
			defer metrics.DecActiveSourceTasks()
			tasks[slot] = o.runSource(ctx, job, id)
		}(i, sourceID)
	}
	wg.Wait()

	return o.settleJob(ctx, job, tasks)
}

// runSource executes one source task end to end. All source-level errors
// are absorbed into the outcome; nothing escapes the fan-in.
func (o *Orchestrator) runSource(ctx context.Context, job Job, sourceID string) (task sourceTask) {
	task.outcome = SourceOutcome{SourceID: sourceID}
	task.result = SourceResult{SourceID: sourceID}
	defer func() {
		if rec := recover(); rec != nil {
			task.outcome.FatalError = fmt.Sprintf("source task panicked: %v", rec)
			o.logger.Error("source task panicked",
				zap.String("job_id", job.ID),
				zap.String("source_id", sourceID),
				zap.Any("panic", rec),
			)
		}
		if task.outcome.Fatal() {
			o.appendEvent(ctx, events.Event{
				JobID:    job.ID,
				SourceID: sourceID,
				Level:    events.LevelError,
				Phase:    events.PhaseCrawl,
				Name:     events.EventSourceFailed,
				Message:  task.outcome.FatalError,
				TS:       o.clock.Now(),
			})
		}
	}()

	source, ok := o.registry.Get(sourceID)
	if !ok {
		task.outcome.FatalError = fmt.Sprintf("source %q not registered", sourceID)
		return task
	}
	task.outcome.SourceName = source.Name
	task.result.SourceName = source.Name

	o.appendEvent(ctx, events.Event{
		JobID:    job.ID,
		SourceID: source.ID,
		Level:    events.LevelInfo,
		Phase:    events.PhaseCrawl,
		Name:     events.EventSourceStarted,
		Message:  "source crawl started",
		Fields:   map[string]any{"feed_url": source.FeedURL},
		TS:       o.clock.Now(),
	})

	items, err := o.feeds.List(ctx, source)
	if err != nil {
		task.outcome.FatalError = fmt.Sprintf("feed unreachable: %v", err)
		return task
	}
	candidates, err := o.buildCandidates(job, source, items)
	if err != nil {
		task.outcome.FatalError = fmt.Sprintf("build candidates: %v", err)
		return task
	}

	sctx := ctx
	if o.cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.cfg.SourceTimeout)
		defer cancel()
	}
	result, err := o.runner.Run(sctx, job, source, candidates)
	if err != nil {
		task.outcome.FatalError = fmt.Sprintf("crawl failed: %v", err)
		task.outcome.Errors = result.Errors
		return task
	}
	task.result = result
	task.outcome.Extracted = len(result.Articles)
	task.outcome.Errors = result.Errors

	o.appendEvent(ctx, events.Event{
		JobID:    job.ID,
		SourceID: source.ID,
		Level:    events.LevelInfo,
		Phase:    events.PhaseCrawl,
		Name:     events.EventSourceCompleted,
		Message:  "source crawl completed",
		Fields: map[string]any{
			"candidates": len(candidates),
			"extracted":  len(result.Articles),
			"errors":     result.Errors,
		},
		TS: o.clock.Now(),
	})
	return task
}

// buildCandidates caps the feed items at the target plus the source's safety
// margin and assigns each one a tracking ID.
func (o *Orchestrator) buildCandidates(job Job, source Source, items []FeedItem) ([]Candidate, error) {
	margin := source.CandidateMargin
	if margin <= 0 {
		margin = o.cfg.DefaultCandidateMargin
	}
	limit := job.ArticlesPerSource + margin
	if len(items) > limit {
		items = items[:limit]
	}
	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		trackingID, err := o.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate tracking id: %w", err)
		}
		candidates = append(candidates, Candidate{
			TrackingID:  trackingID,
			JobID:       job.ID,
			SourceID:    source.ID,
			SourceName:  source.Name,
			URL:         item.URL,
			FeedTitle:   item.Title,
			PublishedAt: item.PublishedAt,
		})
	}
	return candidates, nil
}

func (o *Orchestrator) settleJob(ctx context.Context, job Job, tasks []sourceTask) (JobResult, error) {
	var (
		succeeded []SourceResult
		fatals    int
		counters  JobCounters
	)
	for i := range tasks {
		if tasks[i].outcome.Fatal() {
			fatals++
			counters.Errors++
			continue
		}
		succeeded = append(succeeded, tasks[i].result)
		counters.ArticlesExtracted += len(tasks[i].result.Articles)
		counters.Errors += tasks[i].result.Errors
	}

	claims, err := o.persistResults(ctx, job, succeeded)
	if err != nil {
		// Job-fatal: an unexpected persistence-layer failure aborts the job.
		o.finishJob(ctx, job, JobStatusFailed, counters, tasks)
		return JobResult{}, fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	claimBySource := make(map[string]PersistenceResult, len(claims))
	for _, claim := range claims {
		claimBySource[claim.SourceID] = claim
		counters.ArticlesPersisted += claim.SavedCount
	}
	for i := range tasks {
		if claim, ok := claimBySource[tasks[i].outcome.SourceID]; ok {
			tasks[i].outcome.Persistence = claim
		}
	}

	report := o.verifyResults(ctx, job, succeeded, claims)

	status := deriveStatus(len(tasks), fatals)
	o.finishJob(ctx, job, status, counters, tasks)

	job.Status = status
	job.Counters = counters
	now := o.clock.Now()
	job.Completed = &now

	outcomes := make([]SourceOutcome, len(tasks))
	for i := range tasks {
		outcomes[i] = tasks[i].outcome
	}
	return JobResult{Job: job, Sources: outcomes, Reconciliation: report}, nil
}

func (o *Orchestrator) persistResults(ctx context.Context, job Job, results []SourceResult) ([]PersistenceResult, error) {
	if len(results) == 0 {
		return nil, nil
	}
	claims, err := o.persister.Persist(ctx, job, results)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (o *Orchestrator) verifyResults(
	ctx context.Context,
	job Job,
	results []SourceResult,
	claims []PersistenceResult,
) ReconciliationReport {
	report, err := o.verifier.Verify(ctx, job, results, claims)
	if err != nil {
		o.logger.Error("verification failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		o.appendEvent(ctx, events.Event{
			JobID:   job.ID,
			Level:   events.LevelError,
			Phase:   events.PhaseReconciliation,
			Name:    events.EventReconcileMismatch,
			Message: fmt.Sprintf("verification query failed: %v", err),
			TS:      o.clock.Now(),
		})
		return ReconciliationReport{JobID: job.ID, Clean: false}
	}
	return report
}

func (o *Orchestrator) finishJob(ctx context.Context, job Job, status JobStatus, counters JobCounters, tasks []sourceTask) {
	for i := range tasks {
		if err := o.jobStore.RecordSourceOutcome(ctx, job.ID, tasks[i].outcome); err != nil {
			o.logger.Error("record source outcome failed",
				zap.String("job_id", job.ID),
				zap.String("source_id", tasks[i].outcome.SourceID),
				zap.Error(err),
			)
		}
	}
	if err := o.jobStore.UpdateJobStatus(ctx, job.ID, status, counters); err != nil {
		o.logger.Error("final job status update failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
	metrics.ObserveJob(string(status))
	o.appendEvent(ctx, events.Event{
		JobID:   job.ID,
		Level:   events.LevelInfo,
		Phase:   events.PhaseJob,
		Name:    events.EventJobCompleted,
		Message: "job completed",
		Fields: map[string]any{
			"status":             string(status),
			"articles_extracted": counters.ArticlesExtracted,
			"articles_persisted": counters.ArticlesPersisted,
			"errors":             counters.Errors,
		},
		TS: o.clock.Now(),
	})
}

// deriveStatus maps settled source tasks onto the job's terminal status. A
// source that completed without a fatal error counts as succeeded even if it
// fell short of its numeric target.
func deriveStatus(total, fatals int) JobStatus {
	switch {
	case fatals == 0:
		return JobStatusSuccessful
	case fatals == total:
		return JobStatusFailed
	default:
		return JobStatusPartial
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, evt events.Event) {
	if o.eventLog == nil {
		return
	}
	if err := o.eventLog.Append(ctx, evt); err != nil {
		o.logger.Warn("event append failed", zap.String("event", evt.Name), zap.Error(err))
	}
}
