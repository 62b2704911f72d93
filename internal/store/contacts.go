package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddContact inserts a contact under c.ClientID and sets c.ID.
func (s *SQLiteStore) AddContact(ctx context.Context, c *Contact) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (client_id, name, role, phone, email, notes, is_primary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.Name, c.Role, c.Phone, c.Email, c.Notes, boolToInt(c.IsPrimary), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting contact for client %d: %w", c.ClientID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting contact id: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return id, nil
}

// UpdateContact rewrites a contact's fields. ClientID and IsPrimary are not
// changed here.
func (s *SQLiteStore) UpdateContact(ctx context.Context, c *Contact) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET name = ?, role = ?, phone = ?, email = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Role, c.Phone, c.Email, c.Notes, now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating contact %d: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating contact %d: %w", c.ID, sql.ErrNoRows)
	}
	c.UpdatedAt = now
	return nil
}

// ListContacts returns a client's contacts, primary first then by ID.
func (s *SQLiteStore) ListContacts(ctx context.Context, clientID int64) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, name, role, phone, email, notes, is_primary, created_at, updated_at
		 FROM contacts WHERE client_id = ? ORDER BY is_primary DESC, id ASC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("listing contacts for client %d: %w", clientID, err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c := &Contact{}
		var primary int
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Name, &c.Role, &c.Phone, &c.Email,
			&c.Notes, &primary, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		c.IsPrimary = primary == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
