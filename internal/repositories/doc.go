// Package repositories implements SQLite persistence for catalogue documents.
//
// A [DocumentStore] keeps one JSON body per (collection, id) and applies RFC 6902 patches
// inside a single transaction, so a patch carrying a "test" op is a compare-and-swap:
// either every op applies against the current body or nothing changes and [shared.ErrConflict] is returned.
//
// Each accepted patch refreshes the document's "updated" timestamp, which is what lease expiry is measured against.
//
// Sequence numbers provide stable insertion ordering independent of ids and timestamps.
// The [NextSequence] function atomically increments a per-collection counter.
package repositories
