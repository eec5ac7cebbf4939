package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
)

// Collection describes how documents of one collection are keyed.
type Collection struct {
	Name       string
	Key        string   // top-level field holding the document id
	GenerateID bool     // assign a uuid when Key is absent on create
	Immutable  []string // top-level fields no patch may touch, besides Key, created and updated
}

// DefaultCollections are the collections served by regq.
func DefaultCollections() []Collection {
	return []Collection{
		{Name: "tasks", Key: "id", GenerateID: true, Immutable: []string{"action"}},
		{Name: "datasets", Key: "name"},
	}
}

// DocumentStore persists JSON documents in the documents table.
type DocumentStore struct {
	db          *sql.DB
	mu          sync.Mutex
	collections map[string]Collection
	now         func() time.Time
}

// StoreOption customises a [DocumentStore].
type StoreOption func(*DocumentStore)

// WithClock replaces time.Now for created/updated stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *DocumentStore) { s.now = now }
}

// WithCollections replaces [DefaultCollections].
func WithCollections(cs ...Collection) StoreOption {
	return func(s *DocumentStore) {
		s.collections = make(map[string]Collection, len(cs))
		for _, c := range cs {
			s.collections[c.Name] = c
		}
	}
}

// NewDocumentStore creates a new DocumentStore over a migrated database.
func NewDocumentStore(db *sql.DB, opts ...StoreOption) *DocumentStore {
	s := &DocumentStore{db: db, now: time.Now}
	WithCollections(DefaultCollections()...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DocumentStore) collection(name string) (Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return Collection{}, fmt.Errorf("%w: collection %q", shared.ErrNotFound, name)
	}
	return c, nil
}

// Create inserts body as a new document and returns it with its id and timestamps set.
func (s *DocumentStore) Create(ctx context.Context, collection string, body []byte) (json.RawMessage, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, fmt.Errorf("%w: document must be a JSON object", shared.ErrInvalidInput)
	}

	id, _ := doc[c.Key].(string)
	if id == "" {
		if !c.GenerateID {
			return nil, fmt.Errorf("%w: %s is required", shared.ErrInvalidInput, c.Key)
		}
		id = shared.GenerateID()
		doc[c.Key] = id
	}

	stamp := models.FormatTimestamp(s.now())
	doc["created"] = stamp
	doc["updated"] = stamp

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow("SELECT EXISTS(SELECT 1 FROM documents WHERE collection = ? AND id = ?)", c.Name, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check document: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrAlreadyExists, c.Name, id)
	}

	seq, err := NextSequence(tx, c.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sequence: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO documents (collection, id, seq, body, created, updated) VALUES (?, ?, ?, ?, ?, ?)",
		c.Name, id, seq, string(out), stamp, stamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit document: %w", err)
	}
	return out, nil
}

// Get returns one document.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	var body string
	err = s.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE collection = ? AND id = ?", c.Name, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrNotFound, c.Name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return json.RawMessage(body), nil
}

// List returns the documents whose top-level fields equal every filter value, in insertion order.
func (s *DocumentStore) List(ctx context.Context, collection string, filters map[string]string) ([]json.RawMessage, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	query := "SELECT body FROM documents WHERE collection = ?"
	args := []any{c.Name}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !models.ValidIdentifier(k) {
			return nil, fmt.Errorf("%w: filter key %q", shared.ErrInvalidInput, k)
		}
		query += " AND CAST(json_extract(body, ?) AS TEXT) = ?"
		args = append(args, `$."`+k+`"`, filters[k])
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, json.RawMessage(body))
	}
	return docs, rows.Err()
}

// Patch applies an RFC 6902 patch atomically and returns the new document.
//
// A failed "test" op yields [shared.ErrConflict] and leaves the document unchanged.
func (s *DocumentStore) Patch(ctx context.Context, collection, id string, patch []byte) (json.RawMessage, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	if err := c.checkPatch(patch); err != nil {
		return nil, err
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidPatch, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRow("SELECT body FROM documents WHERE collection = ? AND id = ?", c.Name, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrNotFound, c.Name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	applied, err := decoded.Apply([]byte(body))
	if errors.Is(err, jsonpatch.ErrTestFailed) {
		return nil, fmt.Errorf("%w: %s/%s: %v", shared.ErrConflict, c.Name, id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", shared.ErrInvalidPatch, c.Name, id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(applied, &doc); err != nil {
		return nil, fmt.Errorf("%w: patched document is not an object", shared.ErrInvalidPatch)
	}
	stamp := models.FormatTimestamp(s.now())
	doc["updated"] = stamp

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	if _, err := tx.Exec("UPDATE documents SET body = ?, updated = ? WHERE collection = ? AND id = ?", string(out), stamp, c.Name, id); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patch: %w", err)
	}
	return out, nil
}

// Delete removes one document.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", c.Name, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", shared.ErrNotFound, c.Name, id)
	}
	return nil
}

// checkPatch rejects non-test ops on the key, timestamps and immutable fields.
func (c Collection) checkPatch(patch []byte) error {
	var ops []models.PatchOp
	if err := json.Unmarshal(patch, &ops); err != nil {
		return fmt.Errorf("%w: patch must be a JSON array of operations", shared.ErrInvalidPatch)
	}
	if len(ops) == 0 {
		return fmt.Errorf("%w: empty patch", shared.ErrInvalidPatch)
	}

	protected := append([]string{c.Key, "created", "updated"}, c.Immutable...)
	for _, op := range ops {
		if op.Op == "test" {
			continue
		}
		paths := []string{op.Path}
		if op.Op == "move" {
			paths = append(paths, op.From)
		}
		for _, p := range paths {
			top, _, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
			if p == "" || p == "/" || slices.Contains(protected, top) {
				return fmt.Errorf("%w: %s %s is not allowed", shared.ErrInvalidPatch, op.Op, p)
			}
		}
	}
	return nil
}
