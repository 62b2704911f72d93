package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newFileStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.db")
	s, err := NewSQLiteStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ClientCount)
	assert.Zero(t, stats.RecordCount)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s, path := newFileStore(t)
	ctx := context.Background()
	_, _, err := s.InsertOrGetClient(ctx, "삼성전자", "삼성전자")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(StoreConfig{DBPath: path})
	require.NoError(t, err)
	defer reopened.Close()

	c, err := reopened.GetClientByKey(ctx, "삼성전자")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "삼성전자", c.Name)
}

// --- Clients ---

func TestInsertOrGetClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1, created, err := s.InsertOrGetClient(ctx, "Acme Corp", "acme corp")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, c1.ID)

	c2, created, err := s.InsertOrGetClient(ctx, "ACME CORP", "acme corp")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, "Acme Corp", c2.Name, "existing row is returned unchanged")

	clients, err := s.ListClients(ctx, ListOpts{})
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestInsertOrGetClientRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.InsertOrGetClient(context.Background(), "   ", "")
	assert.Error(t, err)
}

func TestInsertOrGetClientConcurrent(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]int64, callers)
	var createdCount int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			c, created, err := s.InsertOrGetClient(gctx, "삼성전자", "삼성전자")
			if err != nil {
				return err
			}
			ids[i] = c.ID
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, createdCount)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ClientCount)
}

func TestGetClientMissing(t *testing.T) {
	s := newTestStore(t)
	c, err := s.GetClient(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestUpdateClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _, err := s.InsertOrGetClient(ctx, "Alpha", "alpha")
	require.NoError(t, err)
	b, _, err := s.InsertOrGetClient(ctx, "Beta", "beta")
	require.NoError(t, err)

	a.Industry = "Manufacturing"
	a.Address = "Seoul"
	require.NoError(t, s.UpdateClient(ctx, a))

	got, err := s.GetClient(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Manufacturing", got.Industry)
	assert.Equal(t, "Seoul", got.Address)

	b.Name, b.NameKey = "alpha", "alpha"
	err = s.UpdateClient(ctx, b)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	missing := &Client{ID: 404, Name: "x", NameKey: "x"}
	assert.Error(t, s.UpdateClient(ctx, missing))
}

// --- Contacts ---

func TestContacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, _, err := s.InsertOrGetClient(ctx, "Acme", "acme")
	require.NoError(t, err)

	first := &Contact{ClientID: c.ID, Name: "Kim", Email: "kim@acme.test", IsPrimary: true}
	_, err = s.AddContact(ctx, first)
	require.NoError(t, err)
	second := &Contact{ClientID: c.ID, Name: "Lee"}
	_, err = s.AddContact(ctx, second)
	require.NoError(t, err)

	second.Phone = "010-1234-5678"
	require.NoError(t, s.UpdateContact(ctx, second))

	list, err := s.ListContacts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Kim", list[0].Name)
	assert.True(t, list[0].IsPrimary)
	assert.Equal(t, "010-1234-5678", list[1].Phone)
}

func TestContactsSinglePrimary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, _, err := s.InsertOrGetClient(ctx, "Acme", "acme")
	require.NoError(t, err)

	_, err = s.AddContact(ctx, &Contact{ClientID: c.ID, Name: "Kim", IsPrimary: true})
	require.NoError(t, err)
	_, err = s.AddContact(ctx, &Contact{ClientID: c.ID, Name: "Lee", IsPrimary: true})
	assert.True(t, IsUniqueViolation(err), "second primary must be rejected, got %v", err)
}

func TestContactRequiresClient(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddContact(context.Background(), &Contact{ClientID: 12345, Name: "Ghost"})
	assert.Error(t, err)
}

// --- Records ---

func TestRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Record{ClientNameText: "삼성전자들", Body: "met purchasing team"}
	id, err := s.AddRecord(ctx, r)
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.ClientID)
	assert.Nil(t, got.Extraction)
	assert.Nil(t, got.AnalyzedAt)
	assert.Equal(t, "삼성전자들", got.ClientNameText)

	c, _, err := s.InsertOrGetClient(ctx, "삼성전자", "삼성전자")
	require.NoError(t, err)
	require.NoError(t, s.AttachClient(ctx, id, c.ID))
	require.NoError(t, s.AttachClient(ctx, id, c.ID), "re-attaching the same client is a no-op")

	other, _, err := s.InsertOrGetClient(ctx, "LG", "lg")
	require.NoError(t, err)
	err = s.AttachClient(ctx, id, other.ID)
	assert.True(t, errors.Is(err, ErrAlreadyAttached))

	payload := json.RawMessage(`{"client_name":"삼성전자"}`)
	require.NoError(t, s.SetExtraction(ctx, id, payload))

	got, err = s.GetRecord(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.ClientID)
	assert.Equal(t, c.ID, *got.ClientID)
	assert.JSONEq(t, string(payload), string(got.Extraction))
	assert.NotNil(t, got.AnalyzedAt)
}

func TestAddRecordRejectsEmptyBody(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddRecord(context.Background(), &Record{Body: "  "})
	assert.Error(t, err)
}

func TestListRecordsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, _, err := s.InsertOrGetClient(ctx, "Acme", "acme")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r := &Record{Body: fmt.Sprintf("note %d", i)}
		if i == 0 {
			r.ClientID = &c.ID
		}
		_, err := s.AddRecord(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetExtraction(ctx, 2, json.RawMessage(`{}`)))

	attached, err := s.ListRecords(ctx, RecordFilter{ClientID: &c.ID})
	require.NoError(t, err)
	assert.Len(t, attached, 1)

	unattached, err := s.ListRecords(ctx, RecordFilter{Unattached: true})
	require.NoError(t, err)
	assert.Len(t, unattached, 2)

	pending, err := s.ListRecords(ctx, RecordFilter{Unanalyzed: true})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, int64(3), pending[1].ID)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.RecordCount)
	assert.Equal(t, int64(2), stats.UnattachedCount)
	assert.Equal(t, int64(2), stats.UnanalyzedCount)
}

// --- Events & schedules ---

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rid, cid := int64(1), int64(2)

	require.NoError(t, s.LogEvent(ctx, &Event{EventType: EventClientCreated, RecordID: &rid, ClientID: &cid, Phase: "presave"}))
	require.NoError(t, s.LogEvent(ctx, &Event{EventType: EventClientAttached, RecordID: &rid, ClientID: &cid, Phase: "presave"}))

	events, err := s.ListEvents(ctx, rid)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventClientCreated, events[0].EventType)
	assert.Equal(t, cid, *events[1].ClientID)

	err = s.LogEvent(ctx, &Event{EventType: "bogus"})
	assert.Error(t, err)
}

func TestSchedules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, _, err := s.InsertOrGetClient(ctx, "Acme", "acme")
	require.NoError(t, err)
	rid, err := s.AddRecord(ctx, &Record{Body: "demo next week"})
	require.NoError(t, err)

	sc := &Schedule{RecordID: rid, Title: "Demo", Date: "2026-10-20"}
	require.NoError(t, s.UpsertSchedule(ctx, sc))
	firstID := sc.ID

	sc2 := &Schedule{RecordID: rid, Title: "Product demo", Date: "2026-10-21", Time: "14:00"}
	require.NoError(t, s.UpsertSchedule(ctx, sc2))
	assert.Equal(t, firstID, sc2.ID)

	require.NoError(t, s.AttachScheduleClient(ctx, rid, c.ID))
	list, err := s.ListSchedules(ctx, &c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Product demo", list[0].Title)
	assert.Equal(t, "14:00", list[0].Time)

	assert.Error(t, s.UpsertSchedule(ctx, &Schedule{RecordID: rid}))
}
