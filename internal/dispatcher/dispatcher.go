// Package dispatcher runs prepared jobs from a bounded queue on a pool of
// executor goroutines, decoupling trigger acknowledgment from execution.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/engine"
)

// Executor runs one prepared job to completion.
type Executor interface {
	ExecuteJob(ctx context.Context, job engine.Job) (engine.JobResult, error)
}

// Config controls the dispatcher pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// Dispatcher accepts prepared jobs and executes them asynchronously.
type Dispatcher struct {
	executor Executor
	queue    chan engine.Job
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(executor Executor, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		executor: executor,
		queue:    make(chan engine.Job, cfg.QueueDepth),
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the executor pool and blocks until the context finishes and
// in-flight jobs drain.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			if _, err := d.executor.ExecuteJob(ctx, job); err != nil {
				d.logger.Error("job execution failed",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// Enqueue hands a prepared job to the pool. It blocks until there is queue
// room or the context expires.
func (d *Dispatcher) Enqueue(ctx context.Context, job engine.Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue job %s: %w", job.ID, ctx.Err())
	case d.queue <- job:
		return nil
	}
}
