// Package catalogue talks to the document store that holds tasks and datasets.
//
// The store only offers get, list, post, patch and delete. Patches are RFC 6902 operation lists
// applied atomically; a failing "test" op rejects the whole patch. That conditional patch is the
// only compare-and-swap available, and the queue builds its leases on top of it.
//
// # Clients
//
// [HTTPClient] speaks the REST protocol of a remote catalogue (or `regq serve`). It adds a bearer
// token through [golang.org/x/oauth2], paces requests with a [rate.Limiter] and retries requests
// that are safe to repeat: reads, and patches made only of add/replace ops. Writes carrying a
// "test" or "remove" op are sent once; an unknown outcome surfaces as [shared.ErrTransient].
//
// [LocalClient] serves the same interface straight from a sqlite [repositories.DocumentStore],
// selected with a `sqlite://` catalogue URL. It needs no server and is what the tests run against.
//
// # Errors
//
// Status codes map onto the shared taxonomy:
//   - 401, 403: [shared.ErrUnauthorized]
//   - 404: [shared.ErrNotFound]
//   - 409 on POST: [shared.ErrAlreadyExists]
//   - 409, 412 on PATCH: [shared.ErrConflict]
//   - 408, 429, 5xx: [shared.ErrTransient]
package catalogue
