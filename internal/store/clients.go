package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const clientColumns = `id, name, name_key, industry, address, notes, created_at, updated_at`

// InsertOrGetClient returns the client stored under nameKey, creating it with
// name when absent. The insert and the read run in one transaction and the
// insert is guarded by the UNIQUE name_key constraint, so concurrent callers
// with the same key all receive the same row. created reports whether this
// call inserted it.
func (s *SQLiteStore) InsertOrGetClient(ctx context.Context, name, nameKey string) (*Client, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" || nameKey == "" {
		return nil, false, fmt.Errorf("inserting client: empty name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning client insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO clients (name, name_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name_key) DO NOTHING`,
		name, nameKey, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting client %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking client insert: %w", err)
	}

	c, err := scanClient(tx.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE name_key = ?`, nameKey))
	if err != nil {
		return nil, false, fmt.Errorf("reading client %q: %w", nameKey, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing client insert: %w", err)
	}
	return c, n > 0, nil
}

// GetClient retrieves a client by ID. Returns nil, nil when absent.
func (s *SQLiteStore) GetClient(ctx context.Context, id int64) (*Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting client %d: %w", id, err)
	}
	return c, nil
}

// GetClientByKey retrieves a client by normalized name. Returns nil, nil when absent.
func (s *SQLiteStore) GetClientByKey(ctx context.Context, nameKey string) (*Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE name_key = ?`, nameKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting client by key %q: %w", nameKey, err)
	}
	return c, nil
}

// ListClients returns clients ordered by ID. A zero Limit returns all rows.
func (s *SQLiteStore) ListClients(ctx context.Context, opts ListOpts) ([]*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY id ASC`
	var args []interface{}
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// UpdateClient rewrites a client's mutable fields. The ID never changes.
// A rename that collides with another client's key fails with the
// UNIQUE constraint error.
func (s *SQLiteStore) UpdateClient(ctx context.Context, c *Client) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET name = ?, name_key = ?, industry = ?, address = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.NameKey, c.Industry, c.Address, c.Notes, now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating client %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating client %d: %w", c.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating client %d: %w", c.ID, sql.ErrNoRows)
	}
	c.UpdatedAt = now
	return nil
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row rowScanner) (*Client, error) {
	c := &Client{}
	if err := row.Scan(&c.ID, &c.Name, &c.NameKey, &c.Industry, &c.Address, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}
