// Package store provides the SQLite storage layer for roster.
//
// All CRM data lives in a single SQLite database file:
// - Clients, deduplicated by a UNIQUE normalized name key
// - Contact people belonging to a client
// - Source records (sales notes) with their optional AI extraction
// - An append-only log of resolution events
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.roster/roster.db"

// Client is a company that sales activity is attributed to.
type Client struct {
	ID        int64
	Name      string
	NameKey   string // normalized name, unique across clients
	Industry  string
	Address   string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is a person at a client.
type Contact struct {
	ID        int64
	ClientID  int64
	Name      string
	Role      string
	Phone     string
	Email     string
	Notes     string
	IsPrimary bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record is a free-text sales note, optionally attached to a client.
type Record struct {
	ID             int64
	ClientID       *int64
	ClientNameText string // name as typed or transcribed, kept even when unattached
	Body           string
	Extraction     json.RawMessage // nil until analyzed
	AnalyzedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Limit  int
	Offset int
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	ClientCount     int64
	ContactCount    int64
	RecordCount     int64
	UnattachedCount int64
	UnanalyzedCount int64
	EventCount      int64
	DBSizeBytes     int64
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the core storage interface.
type Store interface {
	// Clients
	InsertOrGetClient(ctx context.Context, name, nameKey string) (*Client, bool, error)
	GetClient(ctx context.Context, id int64) (*Client, error)
	GetClientByKey(ctx context.Context, nameKey string) (*Client, error)
	ListClients(ctx context.Context, opts ListOpts) ([]*Client, error)
	UpdateClient(ctx context.Context, c *Client) error

	// Contacts
	AddContact(ctx context.Context, c *Contact) (int64, error)
	UpdateContact(ctx context.Context, c *Contact) error
	ListContacts(ctx context.Context, clientID int64) ([]*Contact, error)

	// Records
	AddRecord(ctx context.Context, r *Record) (int64, error)
	GetRecord(ctx context.Context, id int64) (*Record, error)
	ListRecords(ctx context.Context, opts RecordFilter) ([]*Record, error)
	AttachClient(ctx context.Context, recordID, clientID int64) error
	SetExtraction(ctx context.Context, recordID int64, extraction json.RawMessage) error

	// Schedules
	UpsertSchedule(ctx context.Context, sc *Schedule) error
	AttachScheduleClient(ctx context.Context, recordID, clientID int64) error
	ListSchedules(ctx context.Context, clientID *int64) ([]*Schedule, error)

	// Events
	LogEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, recordID int64) ([]*Event, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	return openSQLite(cfg)
}

// NewSQLiteStore is NewStore returning the concrete type.
func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	return openSQLite(cfg)
}

func openSQLite(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	cfg.DBPath = expandPath(cfg.DBPath)

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	// File databases get their pragmas through the DSN so every pooled
	// connection waits on locks instead of failing with SQLITE_BUSY.
	dsn := cfg.DBPath
	if cfg.DBPath != ":memory:" {
		dsn = dsnWithPragmas(cfg.DBPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each pooled connection to ":memory:" would get its own empty database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}

	if err := s.migrate(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// GetDBPath returns the expanded database path.
func (s *SQLiteStore) GetDBPath() string {
	return s.dbPath
}

// Stats returns current database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM clients", &stats.ClientCount},
		{"SELECT COUNT(*) FROM contacts", &stats.ContactCount},
		{"SELECT COUNT(*) FROM records", &stats.RecordCount},
		{"SELECT COUNT(*) FROM records WHERE client_id IS NULL", &stats.UnattachedCount},
		{"SELECT COUNT(*) FROM records WHERE analyzed_at IS NULL", &stats.UnanalyzedCount},
		{"SELECT COUNT(*) FROM resolution_events", &stats.EventCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	// Get DB size (only works for file-based DBs)
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

func dsnWithPragmas(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// nullableInt64 converts a *int64 to sql.NullInt64 for database operations.
func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
