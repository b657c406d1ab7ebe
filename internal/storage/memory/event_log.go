package memory

import (
	"context"
	"sync"

	"github.com/newsloom/scraper/internal/events"
)

// EventLog is an append-only in-memory event log, queryable by job.
type EventLog struct {
	mu     sync.RWMutex
	events map[string][]events.Event
}

// NewEventLog constructs an EventLog.
func NewEventLog() *EventLog {
	return &EventLog{events: make(map[string][]events.Event)}
}

// Append validates and records one event.
func (l *EventLog) Append(_ context.Context, evt events.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[evt.JobID] = append(l.events[evt.JobID], evt)
	return nil
}

// ListByJob returns every event recorded for a job in append order.
func (l *EventLog) ListByJob(_ context.Context, jobID string) ([]events.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	evts := l.events[jobID]
	out := make([]events.Event, len(evts))
	copy(out, evts)
	return out, nil
}
