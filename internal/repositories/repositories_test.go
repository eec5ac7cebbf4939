package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/regq/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("failed to decode %s: %v", raw, err)
	}
	return doc
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)

	for want := int64(1); want <= 3; want++ {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		got, err := NextSequence(tx, "tasks")
		if err != nil {
			t.Fatalf("NextSequence() error = %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if got != want {
			t.Errorf("NextSequence() = %d, want %d", got, want)
		}
	}
}

func TestDocumentStore(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Create assigns id and timestamps", func(t *testing.T) {
		clock := &fakeClock{now: t0}
		store := NewDocumentStore(setupTestDB(t), WithClock(clock.Now))

		raw, err := store.Create(ctx, "tasks", []byte(`{"action": "dummy", "status": "queued"}`))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		doc := decode(t, raw)
		if doc["id"] == "" || doc["id"] == nil {
			t.Error("expected generated id")
		}
		if doc["created"] != "2024-05-01T12:00:00.000000Z" || doc["updated"] != doc["created"] {
			t.Errorf("unexpected timestamps %v / %v", doc["created"], doc["updated"])
		}
	})

	t.Run("Create conflicts on natural key", func(t *testing.T) {
		store := NewDocumentStore(setupTestDB(t))

		if _, err := store.Create(ctx, "datasets", []byte(`{"name": "ds1"}`)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := store.Create(ctx, "datasets", []byte(`{"name": "ds1"}`)); !errors.Is(err, shared.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
		if _, err := store.Create(ctx, "datasets", []byte(`{"locations": {}}`)); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput without a name, got %v", err)
		}
		if _, err := store.Create(ctx, "weights", []byte(`{"name": "w"}`)); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown collection, got %v", err)
		}
	})

	t.Run("List filters and keeps insertion order", func(t *testing.T) {
		store := NewDocumentStore(setupTestDB(t))

		for _, body := range []string{
			`{"id": "a", "status": "queued", "destination": "leonardo"}`,
			`{"id": "b", "status": "running", "destination": "leonardo"}`,
			`{"id": "c", "status": "queued", "destination": "atos"}`,
			`{"id": "d", "status": "queued", "destination": "leonardo"}`,
		} {
			if _, err := store.Create(ctx, "tasks", []byte(body)); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}

		docs, err := store.List(ctx, "tasks", map[string]string{"status": "queued", "destination": "leonardo"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(docs) != 2 {
			t.Fatalf("expected 2 documents, got %d", len(docs))
		}
		if decode(t, docs[0])["id"] != "a" || decode(t, docs[1])["id"] != "d" {
			t.Errorf("unexpected order: %s, %s", docs[0], docs[1])
		}

		all, err := store.List(ctx, "tasks", nil)
		if err != nil || len(all) != 4 {
			t.Errorf("List(nil) = %d docs, %v", len(all), err)
		}

		if _, err := store.List(ctx, "tasks", map[string]string{"a.b": "x"}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for bad filter key, got %v", err)
		}
	})

	t.Run("Patch refreshes updated", func(t *testing.T) {
		clock := &fakeClock{now: t0}
		store := NewDocumentStore(setupTestDB(t), WithClock(clock.Now))

		if _, err := store.Create(ctx, "tasks", []byte(`{"id": "t1", "status": "running"}`)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		clock.Advance(45 * time.Second)
		raw, err := store.Patch(ctx, "tasks", "t1", []byte(`[{"op": "add", "path": "/status", "value": "running"}]`))
		if err != nil {
			t.Fatalf("Patch() error = %v", err)
		}
		doc := decode(t, raw)
		if doc["updated"] != "2024-05-01T12:00:45.000000Z" {
			t.Errorf("updated not refreshed: %v", doc["updated"])
		}
		if doc["created"] != "2024-05-01T12:00:00.000000Z" {
			t.Errorf("created changed: %v", doc["created"])
		}
	})

	t.Run("Patch test failure is a conflict and changes nothing", func(t *testing.T) {
		clock := &fakeClock{now: t0}
		store := NewDocumentStore(setupTestDB(t), WithClock(clock.Now))

		if _, err := store.Create(ctx, "tasks", []byte(`{"id": "t1", "status": "running"}`)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		before, _ := store.Get(ctx, "tasks", "t1")

		clock.Advance(time.Minute)
		patch := `[
			{"op": "test", "path": "/status", "value": "queued"},
			{"op": "replace", "path": "/status", "value": "running"},
			{"op": "add", "path": "/owner", "value": {"worker": "w"}}
		]`
		if _, err := store.Patch(ctx, "tasks", "t1", []byte(patch)); !errors.Is(err, shared.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		after, _ := store.Get(ctx, "tasks", "t1")
		if string(before) != string(after) {
			t.Errorf("document changed after failed patch:\n%s\n%s", before, after)
		}
	})

	t.Run("Patch rejects protected paths", func(t *testing.T) {
		store := NewDocumentStore(setupTestDB(t))
		if _, err := store.Create(ctx, "tasks", []byte(`{"id": "t1", "action": "dummy", "status": "queued"}`)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		tc := []struct {
			name  string
			patch string
		}{
			{name: "id", patch: `[{"op": "replace", "path": "/id", "value": "t2"}]`},
			{name: "action", patch: `[{"op": "replace", "path": "/action", "value": "transfer-dataset"}]`},
			{name: "updated", patch: `[{"op": "remove", "path": "/updated"}]`},
			{name: "move created", patch: `[{"op": "move", "from": "/created", "path": "/x"}]`},
			{name: "root", patch: `[{"op": "replace", "path": "", "value": {}}]`},
			{name: "empty", patch: `[]`},
			{name: "not a list", patch: `{"op": "add"}`},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := store.Patch(ctx, "tasks", "t1", []byte(tt.patch)); !errors.Is(err, shared.ErrInvalidPatch) {
					t.Errorf("expected ErrInvalidPatch, got %v", err)
				}
			})
		}

		if _, err := store.Patch(ctx, "tasks", "t1", []byte(`[{"op": "test", "path": "/action", "value": "dummy"}, {"op": "add", "path": "/note", "value": "x"}]`)); err != nil {
			t.Errorf("test ops on protected paths should be allowed: %v", err)
		}
	})

	t.Run("Patch missing path is invalid", func(t *testing.T) {
		store := NewDocumentStore(setupTestDB(t))
		if _, err := store.Create(ctx, "tasks", []byte(`{"id": "t1", "status": "running"}`)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		_, err := store.Patch(ctx, "tasks", "t1", []byte(`[{"op": "remove", "path": "/owner"}]`))
		if !errors.Is(err, shared.ErrInvalidPatch) {
			t.Errorf("expected ErrInvalidPatch, got %v", err)
		}
	})

	t.Run("Get and Delete", func(t *testing.T) {
		store := NewDocumentStore(setupTestDB(t))
		if _, err := store.Create(ctx, "tasks", []byte(`{"id": "t1"}`)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if err := store.Delete(ctx, "tasks", "t1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Get(ctx, "tasks", "t1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := store.Delete(ctx, "tasks", "t1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		if _, err := store.Patch(ctx, "tasks", "t1", []byte(`[{"op": "add", "path": "/x", "value": 1}]`)); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound on patch, got %v", err)
		}
	})

	t.Run("concurrent conditional patches", func(t *testing.T) {
		store := NewDocumentStore(setupTestDB(t))
		if _, err := store.Create(ctx, "tasks", []byte(`{"id": "t1", "status": "queued"}`)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		patch := []byte(`[
			{"op": "test", "path": "/status", "value": "queued"},
			{"op": "replace", "path": "/status", "value": "running"}
		]`)

		const racers = 16
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Patch(ctx, "tasks", "t1", patch)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, shared.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error %v", err)
				}
			}()
		}
		wg.Wait()

		if wins.Load() != 1 || conflicts.Load() != racers-1 {
			t.Errorf("wins = %d, conflicts = %d", wins.Load(), conflicts.Load())
		}
	})
}
