package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventType names an entry in the resolution log.
type EventType string

const (
	EventClientCreated  EventType = "client_created"
	EventClientAttached EventType = "client_attached"
	EventAttachDeclined EventType = "attach_declined"
	EventContactAdded   EventType = "contact_added"
	EventContactMerged  EventType = "contact_merged"
)

// Event is an append-only record of a resolution decision.
type Event struct {
	ID        int64
	EventType EventType
	RecordID  *int64
	ClientID  *int64
	Phase     string // "presave", "postanalysis", "sync"
	Detail    string
	CreatedAt time.Time
}

// LogEvent appends an event to the resolution log.
func (s *SQLiteStore) LogEvent(ctx context.Context, e *Event) error {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO resolution_events (event_type, record_id, client_id, phase, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.EventType, nullableInt64(e.RecordID), nullableInt64(e.ClientID), e.Phase, e.Detail, now,
	)
	if err != nil {
		return fmt.Errorf("logging event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting event id: %w", err)
	}

	e.ID = id
	e.CreatedAt = now
	return nil
}

// ListEvents returns the events logged for a record, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, recordID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, record_id, client_id, phase, detail, created_at
		 FROM resolution_events WHERE record_id = ? ORDER BY id ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing events for record %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var rid, cid sql.NullInt64
		if err := rows.Scan(&e.ID, &e.EventType, &rid, &cid, &e.Phase, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if rid.Valid {
			v := rid.Int64
			e.RecordID = &v
		}
		if cid.Valid {
			v := cid.Int64
			e.ClientID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
