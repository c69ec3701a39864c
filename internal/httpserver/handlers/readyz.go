package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool `json:"ready"`
	Nodes int  `json:"nodes"`
}

// Readyz reports ready once the registry has been restored.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := d.Ready == nil || d.Ready()

		resp := readyzResponse{Ready: ready}
		if ready && d.Registry != nil {
			resp.Nodes = d.Registry.Count()
		}

		w.Header().Set("Content-Type", "application/json")
		if ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
