// Package file persists the node registry as a single JSON snapshot.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
)

// Snapshot is the on-disk document.
type Snapshot struct {
	Nodes []*domain.Node `json:"nodes"`
}

// Store writes snapshots by full overwrite. Writes are not atomic; a crash
// mid-write leaves a corrupt file that Load reports as an error.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save replaces the snapshot with nodes.
func (s *Store) Save(nodes []*domain.Node) error {
	if nodes == nil {
		nodes = []*domain.Node{}
	}
	data, err := json.Marshal(Snapshot{Nodes: nodes})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing or malformed file is an error.
func (s *Store) Load() ([]*domain.Node, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	for _, n := range snap.Nodes {
		if n == nil {
			return nil, fmt.Errorf("failed to parse snapshot: null node entry")
		}
		if n.Jobs == nil {
			n.Jobs = []domain.Job{}
		}
	}
	if snap.Nodes == nil {
		snap.Nodes = []*domain.Node{}
	}
	return snap.Nodes, nil
}
