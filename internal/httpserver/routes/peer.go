package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/thalamus/internal/peer"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

func init() { Register(registerPeer) }

// registerPeer mounts the endpoints other nodes call during discovery.
// They are reachable from the whole LAN.
func registerPeer(r chi.Router, d deps.Deps) {
	r.Method(http.MethodGet, peer.VersionPath, telemetry.Instrument("version", handlers.Version(d)))
	r.Method(http.MethodGet, peer.NodexPath, telemetry.Instrument("nodex", handlers.Nodex(d)))
}
