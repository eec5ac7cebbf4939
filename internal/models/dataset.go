package models

import (
	"maps"
	"slices"
)

// Location is where a dataset lives on one platform.
type Location struct {
	Path string `json:"path"`
}

// Dataset is the catalogue record referenced by transfer and delete tasks.
type Dataset struct {
	Name      string              `json:"name"`
	Locations map[string]Location `json:"locations,omitempty"`
}

// LocationPath returns the path registered for platform.
func (d *Dataset) LocationPath(platform string) (string, bool) {
	loc, ok := d.Locations[platform]
	if !ok || loc.Path == "" {
		return "", false
	}
	return loc.Path, true
}

// Platforms lists the platforms holding a copy of the dataset, sorted.
func (d *Dataset) Platforms() []string {
	return slices.Sorted(maps.Keys(d.Locations))
}
