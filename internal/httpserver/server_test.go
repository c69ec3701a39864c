package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/peer"
)

type staticRegistry []*domain.Node

func (s staticRegistry) Snapshot() []*domain.Node {
	out := make([]*domain.Node, 0, len(s))
	for _, n := range s {
		out = append(out, n.Clone())
	}
	return out
}

func (s staticRegistry) Count() int { return len(s) }

func testDeps() deps.Deps {
	n := domain.NewNode("peer-1", "0.3.0", "10.0.0.2:8050", 8050, time.Unix(1000, 0))
	n.Stats.Llama7B = domain.Millis(900)

	return deps.Deps{
		Logger:    logger.New("error", false),
		StartTime: time.Now(),
		Version:   "0.3.0",
		NodeID:    "self",
		Registry:  staticRegistry{n},
		Triggers: map[string]chan struct{}{
			"scan":   make(chan struct{}, 1),
			"gossip": make(chan struct{}, 1),
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVersionEndpoint(t *testing.T) {
	h := NewRouter(logger.New("error", false), testDeps())

	rec := do(t, h, http.MethodGet, peer.VersionPath, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["version"] != "0.3.0" || got["pid"] != "self" {
		t.Errorf("reply = %v", got)
	}
}

func TestPeerEndpointsSpeakTheClientContract(t *testing.T) {
	srv := httptest.NewServer(NewRouter(logger.New("error", false), testDeps()))
	defer srv.Close()
	hostport := strings.TrimPrefix(srv.URL, "http://")
	client := peer.NewClient(time.Second)

	reply, err := client.Version(context.Background(), hostport)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if reply.ID != "self" {
		t.Errorf("ID = %s", reply.ID)
	}

	peers, err := client.Nodex(context.Background(), &domain.Node{Address: hostport})
	if err != nil {
		t.Fatalf("Nodex() error = %v", err)
	}
	if len(peers) != 1 || peers[0].ID != "peer-1" {
		t.Fatalf("Nodex() = %+v", peers)
	}
	if peers[0].Stats.Llama7B == nil || *peers[0].Stats.Llama7B != 900 {
		t.Errorf("stats lost on the wire: %+v", peers[0].Stats)
	}
	if peers[0].Stats.Llama13B != nil {
		t.Errorf("absent stat became present")
	}
}

func TestReadyz(t *testing.T) {
	d := testDeps()
	ready := false
	d.Ready = func() bool { return ready }
	h := NewRouter(d.Logger, d)

	if rec := do(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready: status = %d, want 503", rec.Code)
	}
	ready = true
	rec := do(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("ready: status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"nodes":1`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h := NewRouter(logger.New("error", false), testDeps())

	rec := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"node_id":"self"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestTriggerDiscovery(t *testing.T) {
	d := testDeps()
	h := NewRouter(d.Logger, d)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "queued", path: "/api/discovery/scan", want: http.StatusAccepted},
		{name: "already pending", path: "/api/discovery/scan", want: http.StatusTooManyRequests},
		{name: "other strategy independent", path: "/api/discovery/gossip", want: http.StatusAccepted},
		{name: "unknown strategy", path: "/api/discovery/carrier-pigeon", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	select {
	case <-d.Triggers["scan"]:
	default:
		t.Error("scan trigger was not queued")
	}
}

func TestAdminEndpointsRestrictedByCIDR(t *testing.T) {
	d := testDeps()
	d.AllowedCIDRS = []string{"10.0.0.0/8"}
	h := NewRouter(d.Logger, d)

	for _, path := range []string{"/readyz", "/metrics", "/infra", "/api/nodes/optimal/llama"} {
		if rec := do(t, h, http.MethodGet, path, "192.0.2.10:4000"); rec.Code != http.StatusForbidden {
			t.Errorf("%s from outside: status = %d, want 403", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/api/discovery/scan", "192.0.2.10:4000"); rec.Code != http.StatusForbidden {
		t.Errorf("trigger from outside: status = %d, want 403", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/discovery/scan", "10.1.2.3:4000"); rec.Code != http.StatusAccepted {
		t.Errorf("trigger from inside: status = %d, want 202", rec.Code)
	}

	// Peers must always reach the contract endpoints.
	if rec := do(t, h, http.MethodGet, peer.NodexPath, "192.0.2.10:4000"); rec.Code != http.StatusOK {
		t.Errorf("nodex from outside: status = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", "192.0.2.10:4000"); rec.Code != http.StatusOK {
		t.Errorf("healthz from outside: status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(logger.New("error", false), testDeps())

	do(t, h, http.MethodGet, peer.VersionPath, "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `thalamus_requests_total{op="version",status="2xx"}`) {
		t.Errorf("request metric missing from exposition")
	}
}

func TestInfraWithoutRedis(t *testing.T) {
	h := NewRouter(logger.New("error", false), testDeps())

	rec := do(t, h, http.MethodGet, "/infra", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		MeshMode   string `json:"mesh_mode"`
		Components map[string]struct {
			OK     bool   `json:"ok"`
			Mode   string `json:"mode"`
			Online *int   `json:"online"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MeshMode != "connected" {
		t.Errorf("mesh_mode = %s", got.MeshMode)
	}
	if got.Components["redis"].Mode != "disabled" {
		t.Errorf("redis component = %+v", got.Components["redis"])
	}
	if on := got.Components["registry"].Online; on == nil || *on != 1 {
		t.Errorf("registry online = %v", on)
	}
}

func TestOptimalNode(t *testing.T) {
	h := NewRouter(logger.New("error", false), testDeps())

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "measured capability", path: "/api/nodes/optimal/llama", want: http.StatusOK},
		{name: "nothing measured", path: "/api/nodes/optimal/srgan", want: http.StatusNotFound},
		{name: "unknown capability", path: "/api/nodes/optimal/teleport", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && !strings.Contains(rec.Body.String(), `"pid":"peer-1"`) {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestOptimalNodeUnknownCapabilityWithoutCandidates(t *testing.T) {
	offline := domain.NewNode("down", "0.3.0", "10.0.0.3:8050", 8050, time.Unix(1000, 0))
	offline.Online = false
	offline.Stats.Llama7B = domain.Millis(100)

	tests := []struct {
		name string
		reg  staticRegistry
	}{
		{name: "empty registry", reg: staticRegistry{}},
		{name: "only offline nodes", reg: staticRegistry{offline}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDeps()
			d.Registry = tt.reg
			h := NewRouter(d.Logger, d)

			if rec := do(t, h, http.MethodGet, "/api/nodes/optimal/teleport", ""); rec.Code != http.StatusBadRequest {
				t.Errorf("unknown capability: status = %d, want 400", rec.Code)
			}
			if rec := do(t, h, http.MethodGet, "/api/nodes/optimal/llama", ""); rec.Code != http.StatusNotFound {
				t.Errorf("known capability: status = %d, want 404", rec.Code)
			}
		})
	}
}
