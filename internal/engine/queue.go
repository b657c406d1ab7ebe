package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// errQueueDrained signals that the queue was closed and every candidate has
// been consumed.
var errQueueDrained = errors.New("crawl queue drained")

// crawlQueue is a bounded candidate queue constructed fresh for each
// (job, source) worker invocation. Queues are never shared between
// concurrently running workers; the unique key makes accidental reuse
// visible in logs. This is enforced structurally: the only constructor takes
// the job and source identity, and workers build their own queue inside Run.
type crawlQueue struct {
	key     string
	ch      chan Candidate
	closeMu sync.Mutex
	closed  bool
}

func newCrawlQueue(jobID, sourceID string, capacity int) *crawlQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &crawlQueue{
		key: fmt.Sprintf("%s/%s", jobID, sourceID),
		ch:  make(chan Candidate, capacity),
	}
}

// Key returns the unique (job, source) identity of this queue.
func (q *crawlQueue) Key() string {
	return q.key
}

// Enqueue pushes a candidate or returns if the context ends.
func (q *crawlQueue) Enqueue(ctx context.Context, cand Candidate) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- cand:
		return nil
	}
}

// Dequeue pops the next candidate, respecting context cancellation. Once the
// queue is closed and empty it returns errQueueDrained.
func (q *crawlQueue) Dequeue(ctx context.Context) (Candidate, error) {
	select {
	case <-ctx.Done():
		return Candidate{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case cand, ok := <-q.ch:
		if !ok {
			return Candidate{}, errQueueDrained
		}
		return cand, nil
	}
}

// Close seals the queue; consumers drain remaining candidates. Safe to call
// more than once.
func (q *crawlQueue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
