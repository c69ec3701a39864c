package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

// Nodex returns every node this process knows about, stats included.
func Nodex(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(d.Registry.Snapshot()); err != nil {
			d.Logger.Debug("failed to write node list", logger.Error(err))
		}
	}
}
