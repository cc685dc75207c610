package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/woolpilot/wool-pilot/internal/storage"
)

// Handlers serves the read side of the pipeline: products that earlier
// scrape runs wrote to the store.
type Handlers struct {
	store  storage.Store
	logger *slog.Logger
}

func NewHandlers(store storage.Store, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:  store,
		logger: logger,
	}
}

// Routes mounts all product endpoints on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/products", h.ListProducts)
	r.Get("/products/{productID}", h.GetProductByID)
	r.Get("/product/{productName}", h.GetProductByName)
}

// ListProducts returns every stored product. An empty store yields an
// empty list, not an error.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.FindAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	h.respondJSON(w, http.StatusOK, products)
}

// GetProductByID looks a product up by the shop's own id.
func (h *Handlers) GetProductByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")

	product, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("product with id %q not found", id))
			return
		}
		h.logger.Error("failed to get product", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

// GetProductByName looks a product up by name, ignoring case.
func (h *Handlers) GetProductByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "productName")

	product, err := h.store.FindByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("product with name %q not found", name))
			return
		}
		h.logger.Error("failed to get product", "name", name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

// Health reports the service as reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "wool-pilot-api",
	})
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
