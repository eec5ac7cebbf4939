// Package models defines the documents exchanged with the catalogue.
//
// The package contains three groups of types:
//
// 1. Queue documents
//   - [Task] : one queued or running unit of work, flattened on the wire with its action fields
//   - [Owner] : the lease holder attached to a running task
//   - [ProgressReport] : structured progress with retained first/first-transfer/previous snapshots
//
// 2. Catalogue documents
//   - [Dataset] : a dataset record and its per-platform [Location] map
//
// 3. Patches
//   - [PatchOp] : one RFC 6902 operation; see [Test], [Add], [Replace] and [Remove]
//
// [Action] is a closed set. [ParseAction] normalises operator input and rejects anything else,
// so a task with an unknown action never reaches the queue.
package models
