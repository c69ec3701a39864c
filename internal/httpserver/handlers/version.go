package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
)

// Version answers liveness probes with this node's identity.
func Version(d deps.Deps) http.HandlerFunc {
	reply := domain.VersionReply{Version: d.Version, ID: d.NodeID}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(reply)
	}
}
