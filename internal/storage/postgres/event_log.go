package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/newsloom/scraper/internal/events"
)

// EventLog implements events.Log on Postgres. Rows are append-only; nothing
// in the engine updates or deletes them.
type EventLog struct {
	pool pgxPool
}

// NewEventLog constructs an EventLog on an existing pool.
func NewEventLog(pool pgxPool) *EventLog {
	return &EventLog{pool: pool}
}

// Close releases the underlying pool resources.
func (l *EventLog) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Append validates and inserts one event row.
func (l *EventLog) Append(ctx context.Context, evt events.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	fields, err := json.Marshal(evt.Fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}
	query := `
		INSERT INTO job_events (
			job_id, source_id, tracking_id, level, phase, name, message, fields, ts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = l.pool.Exec(ctx, query,
		evt.JobID,
		evt.SourceID,
		evt.TrackingID,
		string(evt.Level),
		string(evt.Phase),
		evt.Name,
		evt.Message,
		fields,
		evt.TS,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListByJob returns every event for a job in append order.
func (l *EventLog) ListByJob(ctx context.Context, jobID string) ([]events.Event, error) {
	query := `
		SELECT job_id, source_id, tracking_id, level, phase, name, message, fields, ts
		FROM job_events
		WHERE job_id = $1
		ORDER BY ts, id`
	rows, err := l.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			evt       events.Event
			level     string
			phase     string
			fieldsRaw []byte
		)
		err := rows.Scan(
			&evt.JobID,
			&evt.SourceID,
			&evt.TrackingID,
			&level,
			&phase,
			&evt.Name,
			&evt.Message,
			&fieldsRaw,
			&evt.TS,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Level = events.Level(level)
		evt.Phase = events.Phase(phase)
		if len(fieldsRaw) > 0 {
			if err := json.Unmarshal(fieldsRaw, &evt.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal event fields: %w", err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
