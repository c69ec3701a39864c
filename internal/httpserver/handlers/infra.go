package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Known  *int   `json:"known,omitempty"`
	Online *int   `json:"online,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type infraResponse struct {
	MeshMode   string                     `json:"mesh_mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra summarises the registry and the Redis mirror.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		components := map[string]componentStatus{
			"registry": registryStatus(d),
			"redis":    checkRedis(r.Context(), d),
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(infraResponse{
			MeshMode:   determineMeshMode(components),
			Components: components,
		})
	}
}

func registryStatus(d deps.Deps) componentStatus {
	nodes := d.Registry.Snapshot()
	known, online := len(nodes), 0
	for _, n := range nodes {
		if n.Online {
			online++
		}
	}
	return componentStatus{OK: true, Known: &known, Online: &online}
}

func determineMeshMode(components map[string]componentStatus) string {
	if reg, ok := components["registry"]; ok && reg.Online != nil && *reg.Online == 0 {
		return "isolated" // no reachable peer
	}
	if redis, ok := components["redis"]; ok && !redis.OK && redis.Mode != "disabled" {
		return "degraded" // mirror configured but unreachable
	}
	return "connected"
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "no-registry-mirror",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "registry-mirror-stale",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "registry-mirror-enabled",
	}
}
