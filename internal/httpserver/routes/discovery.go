package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/mw"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

func init() { Register(registerDiscovery) }

func registerDiscovery(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:             5,
		RefillPerIPPerMin: 10,
		MaxEntries:        1024,
		IdleTTL:           15 * time.Minute,
		TrustProxy:        d.TrustProxy,
	})
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), limit).
		Method(http.MethodPost, "/api/discovery/{strategy}", telemetry.Instrument("trigger", handlers.TriggerDiscovery(d)))
}
