package main

import (
	"context"

	"github.com/desertthunder/regq/internal/formatter"
	"github.com/urfave/cli/v3"
)

// DatasetsGet prints a dataset and its locations.
func (r *Runner) DatasetsGet(ctx context.Context, cmd *cli.Command) error {
	name, err := requireArg(cmd, 0, "dataset name")
	if err != nil {
		return err
	}

	datasets, err := r.datasets()
	if err != nil {
		return err
	}
	ds, err := datasets.Get(ctx, name)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(ds, true)
	}
	return r.writePlain("%s", formatter.DatasetToText(ds))
}

// DatasetsCreate registers an empty dataset record.
func (r *Runner) DatasetsCreate(ctx context.Context, cmd *cli.Command) error {
	name, err := requireArg(cmd, 0, "dataset name")
	if err != nil {
		return err
	}

	datasets, err := r.datasets()
	if err != nil {
		return err
	}
	ds, err := datasets.Create(ctx, name)
	if err != nil {
		return err
	}
	return r.writePlain("%s", formatter.DatasetToText(ds))
}

// DatasetsAddLocation records NAME on PLATFORM at PATH.
func (r *Runner) DatasetsAddLocation(ctx context.Context, cmd *cli.Command) error {
	name, err := requireArg(cmd, 0, "dataset name")
	if err != nil {
		return err
	}
	platform, err := requireArg(cmd, 1, "platform")
	if err != nil {
		return err
	}
	path, err := requireArg(cmd, 2, "path")
	if err != nil {
		return err
	}

	datasets, err := r.datasets()
	if err != nil {
		return err
	}
	if err := datasets.AddLocation(ctx, name, platform, path); err != nil {
		return err
	}
	r.logger.Info("location added", "dataset", name, "platform", platform, "path", path)
	return nil
}

// DatasetsRemoveLocation forgets NAME's location on PLATFORM.
func (r *Runner) DatasetsRemoveLocation(ctx context.Context, cmd *cli.Command) error {
	name, err := requireArg(cmd, 0, "dataset name")
	if err != nil {
		return err
	}
	platform, err := requireArg(cmd, 1, "platform")
	if err != nil {
		return err
	}

	datasets, err := r.datasets()
	if err != nil {
		return err
	}
	if err := datasets.RemoveLocation(ctx, name, platform); err != nil {
		return err
	}
	r.logger.Info("location removed", "dataset", name, "platform", platform)
	return nil
}
