// Package server serves the catalogue protocol over HTTP from a local document store.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns ("GET /path/{id}").
//
// # Catalogue Handler
//
// [CatalogueHandler] maps the document store onto:
//
//	GET    /api/v1/{collection}/        list, query parameters are exact-match filters
//	POST   /api/v1/{collection}         create
//	GET    /api/v1/{collection}/{id}    fetch
//	PATCH  /api/v1/{collection}/{id}    apply an RFC 6902 patch atomically
//	DELETE /api/v1/{collection}/{id}    delete
//
// A patch whose test operation fails answers 409 and leaves the document untouched, which is what
// workers rely on to lease tasks.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
