package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/mw"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

func init() { Register(registerInfra) }

func registerInfra(r chi.Router, d deps.Deps) {
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).Get("/infra", handlers.Infra(d))
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).Handle("/metrics", telemetry.MetricsHandler())
}
