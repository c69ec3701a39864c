package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

// TriggerDiscovery queues an immediate run of the strategy named in the
// path. At most one manual run is pending per strategy.
func TriggerDiscovery(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "strategy")
		trigger, ok := d.Triggers[name]
		if !ok {
			http.Error(w, "unknown discovery strategy", http.StatusNotFound)
			return
		}

		select {
		case trigger <- struct{}{}:
			d.Logger.Info("manual discovery run triggered via endpoint",
				logger.String("strategy", name),
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusAccepted)
			if _, err := w.Write([]byte("discovery run queued\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		default:
			d.Logger.Warn("discovery run already pending",
				logger.String("strategy", name),
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte("discovery run already pending, please wait\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		}
	}
}
