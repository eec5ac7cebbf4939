package catalogue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
)

// Datasets reads dataset records and edits their location maps.
type Datasets struct {
	client Client
}

func NewDatasets(client Client) *Datasets {
	return &Datasets{client: client}
}

// Get fetches one dataset by name.
func (d *Datasets) Get(ctx context.Context, name string) (*models.Dataset, error) {
	raw, err := d.client.Get(ctx, CollectionDatasets, name)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}

	var ds models.Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", shared.ErrAPIRequest, name, err)
	}
	return &ds, nil
}

// Create registers a dataset with no locations.
func (d *Datasets) Create(ctx context.Context, name string) (*models.Dataset, error) {
	if !models.ValidIdentifier(name) {
		return nil, fmt.Errorf("%w: dataset name %q", shared.ErrInvalidInput, name)
	}
	if _, err := d.client.Post(ctx, CollectionDatasets, models.Dataset{Name: name}); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	return d.Get(ctx, name)
}

// AddLocation records that the dataset is available on platform at path, replacing any previous entry.
func (d *Datasets) AddLocation(ctx context.Context, name, platform, path string) error {
	ds, err := d.Get(ctx, name)
	if err != nil {
		return err
	}

	loc := models.Location{Path: path}
	var ops []models.PatchOp
	if ds.Locations == nil {
		ops = []models.PatchOp{models.Add("/locations", map[string]models.Location{platform: loc})}
	} else {
		ops = []models.PatchOp{models.Add("/locations/"+models.EscapePointer(platform), loc)}
	}

	if _, err := d.client.Patch(ctx, CollectionDatasets, name, ops); err != nil {
		return fmt.Errorf("dataset %s: add location %s: %w", name, platform, err)
	}
	return nil
}

// RemoveLocation drops platform from the dataset's locations.
// It returns [shared.ErrNotFound] when the dataset has no such location.
func (d *Datasets) RemoveLocation(ctx context.Context, name, platform string) error {
	ds, err := d.Get(ctx, name)
	if err != nil {
		return err
	}
	if _, ok := ds.Locations[platform]; !ok {
		return fmt.Errorf("%w: dataset %s has no location on %s", shared.ErrNotFound, name, platform)
	}

	ops := []models.PatchOp{models.Remove("/locations/" + models.EscapePointer(platform))}
	if _, err := d.client.Patch(ctx, CollectionDatasets, name, ops); err != nil {
		return fmt.Errorf("dataset %s: remove location %s: %w", name, platform, err)
	}
	return nil
}
