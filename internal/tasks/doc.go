// Package tasks implements the executors a worker runs for each task action.
//
// # Executors
//
// [New] maps an [models.Action] to its [Executor]:
//
//  1. [TransferDataset] : copies a dataset from its source location to this worker's target directory
//     - Resolves locations[source].path from the dataset record
//     - Copies into "<target_dir>-downloading/<name>" then renames into "<target_dir>/<name>"
//     - Registers the new location on the dataset when auto_register is set
//
//  2. [DeleteDataset] : removes a dataset copy from this worker's platform
//     - Moves the directory aside to "<path>.deleting" before removing it
//     - Drops the platform from the dataset's locations
//
//  3. [Dummy] : logs and succeeds, for exercising the worker plumbing
//
// Every executor validates task fields before touching anything: platform and dataset names may only
// contain letters, digits, '-' and '_'. Failures wrap [shared.ErrValidation].
//
// # Progress Reporting
//
// [Reporter] turns byte counts from [transfer.Copy] into [models.ProgressReport] writes on the task,
// at most once per frequency. It keeps the first snapshot and the first one taken while bytes were
// moving so a reader can derive elapsed time and rate.
//
// Executors also emit [Update] values on a non-blocking channel describing which phase they are in.
package tasks
