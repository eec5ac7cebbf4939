package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/repositories"
	"github.com/desertthunder/regq/internal/shared"
)

const (
	CollectionTasks    = "tasks"
	CollectionDatasets = "datasets"
)

// Client is the catalogue protocol.
type Client interface {
	List(ctx context.Context, collection string, params map[string]string) ([]json.RawMessage, error)
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	Post(ctx context.Context, collection string, doc any) (json.RawMessage, error)
	Patch(ctx context.Context, collection, id string, ops []models.PatchOp) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
}

const sqliteScheme = "sqlite://"

// Open returns a [LocalClient] for sqlite:// URLs and an [HTTPClient] otherwise.
//
// A LocalClient owns its database; close it with Close.
func Open(cfg shared.CatalogueConfig, logger *log.Logger) (Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: catalogue url is empty", shared.ErrInvalidConfig)
	}

	if path, ok := strings.CutPrefix(url, sqliteScheme); ok {
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite catalogue url has no path", shared.ErrInvalidConfig)
		}
		db, err := shared.OpenStoreDatabase(shared.DatabaseConfig{Path: path})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", shared.ErrInvalidConfig, err)
		}
		return NewLocalClient(repositories.NewDocumentStore(db), db.Close), nil
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: unsupported catalogue url %q", shared.ErrInvalidConfig, url)
	}

	return NewHTTPClient(HTTPOptions{
		BaseURL:    url,
		Token:      cfg.Token,
		RateLimit:  cfg.RateLimit,
		MaxTries:   cfg.MaxTries,
		RetryAfter: time.Duration(cfg.RetryAfter) * time.Second,
		Timeout:    time.Duration(cfg.Timeout) * time.Second,
		Logger:     logger,
	}), nil
}

// LocalClient implements [Client] over a [repositories.DocumentStore].
type LocalClient struct {
	store *repositories.DocumentStore
	close func() error
}

// NewLocalClient wraps store. closeFn, when non-nil, runs on Close.
func NewLocalClient(store *repositories.DocumentStore, closeFn func() error) *LocalClient {
	return &LocalClient{store: store, close: closeFn}
}

func (c *LocalClient) List(ctx context.Context, collection string, params map[string]string) ([]json.RawMessage, error) {
	return c.store.List(ctx, collection, params)
}

func (c *LocalClient) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	return c.store.Get(ctx, collection, id)
}

func (c *LocalClient) Post(ctx context.Context, collection string, doc any) (json.RawMessage, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return c.store.Create(ctx, collection, body)
}

func (c *LocalClient) Patch(ctx context.Context, collection, id string, ops []models.PatchOp) (json.RawMessage, error) {
	body, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	return c.store.Patch(ctx, collection, id, body)
}

func (c *LocalClient) Delete(ctx context.Context, collection, id string) error {
	return c.store.Delete(ctx, collection, id)
}

func (c *LocalClient) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
