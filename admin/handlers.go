package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/provide"
	"github.com/maxpert/pubkit/vat"
	"github.com/rs/zerolog/log"
)

// Registry is what the admin endpoints read from. Only metadata is exposed,
// never published values.
type Registry interface {
	Version() string
	Keys(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, key string) (vat.KitInfo, error)
	LiveKits() int
	Waiters() int
}

// AdminHandlers serves the admin API
type AdminHandlers struct {
	registry Registry
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(registry Registry) *AdminHandlers {
	return &AdminHandlers{registry: registry}
}

func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"healthy":   true,
		"version":   h.registry.Version(),
		"live_kits": h.registry.LiveKits(),
		"waiters":   h.registry.Waiters(),
	}
	writeJSONResponse(w, response)
}

func (h *AdminHandlers) handleListKits(w http.ResponseWriter, r *http.Request) {
	keys, err := h.registry.Keys(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSONResponse(w, keys)
}

func (h *AdminHandlers) handleKit(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeErrorResponse(w, http.StatusBadRequest, "kit key is required")
		return
	}

	info, err := h.registry.Describe(r.Context(), key)
	switch {
	case err == nil:
		writeJSONResponse(w, info)
	case errors.Is(err, baggage.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "kit not provisioned: "+key)
	case errors.Is(err, provide.ErrKindMismatch):
		writeErrorResponse(w, http.StatusConflict, err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
