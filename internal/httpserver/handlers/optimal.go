package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

// OptimalNode returns the fastest online node for the capability named in
// the path.
func OptimalNode(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		capability := chi.URLParam(r, "capability")

		best, err := domain.FindBestMatch(capability, d.Registry.Snapshot())
		if errors.Is(err, domain.ErrUnknownCapability) {
			http.Error(w, "unknown capability", http.StatusBadRequest)
			return
		}
		if best == nil {
			http.Error(w, "no online node measured for this capability", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(best); err != nil {
			d.Logger.Debug("failed to write node", logger.Error(err))
		}
	}
}
