package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/regq/internal/shared"
)

const maxBodyBytes = 8 << 20

// Store is the document store behind the catalogue API.
type Store interface {
	Create(ctx context.Context, collection string, body []byte) (json.RawMessage, error)
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	List(ctx context.Context, collection string, filters map[string]string) ([]json.RawMessage, error)
	Patch(ctx context.Context, collection, id string, patch []byte) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
}

// CatalogueHandler serves collections of JSON documents.
type CatalogueHandler struct {
	store  Store
	logger *log.Logger
}

func NewCatalogueHandler(store Store, logger *log.Logger) *CatalogueHandler {
	return &CatalogueHandler{store: store, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *CatalogueHandler) Routes() []string {
	return []string{
		"GET /api/v1/{collection}",
		"GET /api/v1/{collection}/{$}",
		"POST /api/v1/{collection}",
		"POST /api/v1/{collection}/{$}",
		"GET /api/v1/{collection}/{id}",
		"PATCH /api/v1/{collection}/{id}",
		"DELETE /api/v1/{collection}/{id}",
	}
}

func (h *CatalogueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	collection, id := r.PathValue("collection"), r.PathValue("id")

	switch {
	case r.Method == http.MethodGet && id == "":
		h.list(w, r, collection)
	case r.Method == http.MethodPost:
		h.create(w, r, collection)
	case r.Method == http.MethodGet:
		h.get(w, r, collection, id)
	case r.Method == http.MethodPatch:
		h.patch(w, r, collection, id)
	case r.Method == http.MethodDelete:
		h.delete(w, r, collection, id)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	}
}

func (h *CatalogueHandler) list(w http.ResponseWriter, r *http.Request, collection string) {
	filters := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			filters[k] = vs[0]
		}
	}

	docs, err := h.store.List(r.Context(), collection, filters)
	if err != nil {
		h.fail(w, err)
		return
	}
	if docs == nil {
		docs = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *CatalogueHandler) create(w http.ResponseWriter, r *http.Request, collection string) {
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	doc, err := h.store.Create(r.Context(), collection, body)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *CatalogueHandler) get(w http.ResponseWriter, r *http.Request, collection, id string) {
	doc, err := h.store.Get(r.Context(), collection, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *CatalogueHandler) patch(w http.ResponseWriter, r *http.Request, collection, id string) {
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	doc, err := h.store.Patch(r.Context(), collection, id, body)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *CatalogueHandler) delete(w http.ResponseWriter, r *http.Request, collection, id string) {
	if err := h.store.Delete(r.Context(), collection, id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogueHandler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("catalogue request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// StatusFor maps store errors onto the statuses the catalogue client understands.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidPatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Join(shared.ErrInvalidInput, err)
	}
	if len(body) == 0 {
		return nil, errors.Join(shared.ErrInvalidInput, errors.New("empty request body"))
	}
	return body, nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}
