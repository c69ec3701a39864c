package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/mw"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

func init() { Register(registerNodes) }

func registerNodes(r chi.Router, d deps.Deps) {
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).
		Method(http.MethodGet, "/api/nodes/optimal/{capability}", telemetry.Instrument("optimal", handlers.OptimalNode(d)))
}
