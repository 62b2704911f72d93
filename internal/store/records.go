package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAlreadyAttached is returned by AttachClient when the record already
// belongs to a different client.
var ErrAlreadyAttached = errors.New("record already attached to another client")

// RecordFilter controls which records ListRecords returns.
type RecordFilter struct {
	ClientID   *int64 // only records attached to this client
	Unattached bool   // only records with no client
	Unanalyzed bool   // only records without an extraction
	Limit      int    // 0 = default 100
	Offset     int
}

const recordColumns = `id, client_id, client_name_text, body, extraction, analyzed_at, created_at, updated_at`

// AddRecord inserts a source record and sets r.ID.
func (s *SQLiteStore) AddRecord(ctx context.Context, r *Record) (int64, error) {
	if strings.TrimSpace(r.Body) == "" {
		return 0, fmt.Errorf("inserting record: empty body")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (client_id, client_name_text, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		nullableInt64(r.ClientID), r.ClientNameText, r.Body, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting record id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	return id, nil
}

// GetRecord retrieves a record by ID. Returns nil, nil when absent.
func (s *SQLiteStore) GetRecord(ctx context.Context, id int64) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %d: %w", id, err)
	}
	return r, nil
}

// ListRecords returns records matching the filter, oldest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, f RecordFilter) ([]*Record, error) {
	var conditions []string
	var args []interface{}

	if f.ClientID != nil {
		conditions = append(conditions, "client_id = ?")
		args = append(args, *f.ClientID)
	}
	if f.Unattached {
		conditions = append(conditions, "client_id IS NULL")
	}
	if f.Unanalyzed {
		conditions = append(conditions, "analyzed_at IS NULL")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM records %s ORDER BY id ASC LIMIT ? OFFSET ?`, recordColumns, where),
		args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttachClient sets the record's client. Re-attaching the same client is a
// no-op; attaching a record that already belongs to another client fails
// with ErrAlreadyAttached.
func (s *SQLiteStore) AttachClient(ctx context.Context, recordID, clientID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET client_id = ?, updated_at = ?
		 WHERE id = ? AND (client_id IS NULL OR client_id = ?)`,
		clientID, time.Now().UTC(), recordID, clientID,
	)
	if err != nil {
		return fmt.Errorf("attaching record %d to client %d: %w", recordID, clientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attaching record %d: %w", recordID, err)
	}
	if n > 0 {
		return nil
	}

	r, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("attaching record %d: %w", recordID, sql.ErrNoRows)
	}
	return fmt.Errorf("attaching record %d to client %d: %w", recordID, clientID, ErrAlreadyAttached)
}

// SetExtraction stores the AI extraction for a record and marks it analyzed.
func (s *SQLiteStore) SetExtraction(ctx context.Context, recordID int64, extraction json.RawMessage) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET extraction = ?, analyzed_at = ?, updated_at = ? WHERE id = ?`,
		string(extraction), now, now, recordID,
	)
	if err != nil {
		return fmt.Errorf("storing extraction for record %d: %w", recordID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storing extraction for record %d: %w", recordID, sql.ErrNoRows)
	}
	return nil
}

func scanRecord(row rowScanner) (*Record, error) {
	r := &Record{}
	var clientID sql.NullInt64
	var extraction sql.NullString
	var analyzedAt sql.NullTime
	if err := row.Scan(&r.ID, &clientID, &r.ClientNameText, &r.Body, &extraction,
		&analyzedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if clientID.Valid {
		id := clientID.Int64
		r.ClientID = &id
	}
	if extraction.Valid && extraction.String != "" {
		r.Extraction = json.RawMessage(extraction.String)
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time
		r.AnalyzedAt = &t
	}
	return r, nil
}
