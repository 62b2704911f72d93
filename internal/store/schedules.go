package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Schedule is a follow-up appointment derived from a record's extraction.
type Schedule struct {
	ID        int64
	RecordID  int64
	ClientID  *int64
	Title     string
	Date      string // YYYY-MM-DD as extracted; may be empty
	Time      string // HH:MM as extracted; may be empty
	Location  string
	Notes     string
	CreatedAt time.Time
}

// UpsertSchedule stores the schedule for a record, replacing any previous one.
func (s *SQLiteStore) UpsertSchedule(ctx context.Context, sc *Schedule) error {
	if strings.TrimSpace(sc.Title) == "" {
		return fmt.Errorf("storing schedule for record %d: empty title", sc.RecordID)
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO schedules (record_id, client_id, title, date, time, location, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET
		   client_id = excluded.client_id, title = excluded.title, date = excluded.date,
		   time = excluded.time, location = excluded.location, notes = excluded.notes
		 RETURNING id`,
		sc.RecordID, nullableInt64(sc.ClientID), sc.Title, sc.Date, sc.Time, sc.Location, sc.Notes, now,
	).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("storing schedule for record %d: %w", sc.RecordID, err)
	}
	sc.CreatedAt = now
	return nil
}

// AttachScheduleClient propagates a record's client to its schedule.
func (s *SQLiteStore) AttachScheduleClient(ctx context.Context, recordID, clientID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET client_id = ? WHERE record_id = ?`, clientID, recordID); err != nil {
		return fmt.Errorf("attaching schedule for record %d: %w", recordID, err)
	}
	return nil
}

// ListSchedules returns schedules ordered by date, optionally for one client.
func (s *SQLiteStore) ListSchedules(ctx context.Context, clientID *int64) ([]*Schedule, error) {
	query := `SELECT id, record_id, client_id, title, date, time, location, notes, created_at FROM schedules`
	var args []interface{}
	if clientID != nil {
		query += ` WHERE client_id = ?`
		args = append(args, *clientID)
	}
	query += ` ORDER BY date ASC, time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sc := &Schedule{}
		var cid sql.NullInt64
		if err := rows.Scan(&sc.ID, &sc.RecordID, &cid, &sc.Title, &sc.Date, &sc.Time,
			&sc.Location, &sc.Notes, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		if cid.Valid {
			v := cid.Int64
			sc.ClientID = &v
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
