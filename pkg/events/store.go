package events

import (
	"context"
	"database/sql"
	"fmt"
)

// EventStore reads persisted events back for catchup. It implements
// CatchupQuerier over the same events table the Publisher writes.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an event store over the database handle.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// EventsAfter returns up to limit events on a channel with id > afterID,
// oldest first.
func (s *EventStore) EventsAfter(ctx context.Context, channel string, afterID int64, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.ID, &ev.Channel, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
