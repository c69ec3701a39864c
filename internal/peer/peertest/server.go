// Package peertest runs in-process fake nodes for tests.
package peertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
)

// Server is a fake node answering the peer HTTP contract.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	id    string
	ver   string
	peers []*domain.Node

	// Fail maps a request path to a status code to reply with.
	fail map[string]int
	// Delay maps a llama model tier to an artificial latency.
	delay map[string]time.Duration

	versionHits atomic.Int64
	serviceHits atomic.Int64
}

// New starts a fake node with the given identity.
func New(id, version string) *Server {
	s := &Server{id: id, ver: version, fail: map[string]int{}, delay: map[string]time.Duration{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/thalamus/version", s.version)
	mux.HandleFunc("/api/nodex", s.nodex)
	mux.HandleFunc("/api/services/whisper", s.whisper)
	mux.HandleFunc("/api/services/whisper/vwav", s.raw)
	mux.HandleFunc("/api/services/image/srgan", s.raw)
	mux.HandleFunc("/api/services/llama", s.llama)
	mux.HandleFunc("/api/services/tts", s.raw)
	s.Server = httptest.NewServer(mux)
	return s
}

// HostPort returns the listener address without scheme.
func (s *Server) HostPort() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// SetPeers replaces the list returned by /api/nodex.
func (s *Server) SetPeers(peers ...*domain.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = peers
}

// FailPath makes every request to path reply with status.
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[path] = status
}

// DelayModel makes llama requests for model sleep for d before replying.
func (s *Server) DelayModel(model string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[model] = d
}

// VersionHits counts liveness probes received.
func (s *Server) VersionHits() int64 { return s.versionHits.Load() }

// ServiceHits counts inference calls received.
func (s *Server) ServiceHits() int64 { return s.serviceHits.Load() }

func (s *Server) failed(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	code, ok := s.fail[r.URL.Path]
	s.mu.Unlock()
	if ok {
		http.Error(w, "injected failure", code)
	}
	return ok
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	s.versionHits.Add(1)
	if s.failed(w, r) {
		return
	}
	writeJSON(w, domain.VersionReply{Version: s.ver, ID: s.id})
}

func (s *Server) nodex(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r) {
		return
	}
	s.mu.Lock()
	peers := s.peers
	s.mu.Unlock()
	if peers == nil {
		peers = []*domain.Node{}
	}
	writeJSON(w, peers)
}

func (s *Server) whisper(w http.ResponseWriter, r *http.Request) {
	s.serviceHits.Add(1)
	if s.failed(w, r) {
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, domain.STTReply{Text: "method=" + r.FormValue("method"), Time: 0.1})
}

func (s *Server) llama(w http.ResponseWriter, r *http.Request) {
	s.serviceHits.Add(1)
	if s.failed(w, r) {
		return
	}
	model := r.FormValue("model")
	s.mu.Lock()
	d := s.delay[model]
	s.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	_, _ = w.Write([]byte("Abraham Lincoln was the 16th president."))
}

func (s *Server) raw(w http.ResponseWriter, r *http.Request) {
	s.serviceHits.Add(1)
	if s.failed(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write([]byte{0x52, 0x49, 0x46, 0x46})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
