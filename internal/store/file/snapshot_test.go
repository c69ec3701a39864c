package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clients.json")
	s := NewStore(path)

	n := domain.NewNode("a", "0.3.0", "10.0.0.2:8050", 8050, time.Unix(1000, 0))
	n.Stats.Llama7B = domain.Millis(1500)

	if err := s.Save([]*domain.Node{n}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(raw), `{"nodes":[`) {
		t.Errorf("unexpected document shape: %s", raw)
	}
	if !strings.Contains(string(raw), `"llama_13b":null`) {
		t.Errorf("absent stats must be null: %s", raw)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" || got[0].LastSeen != 1000 {
		t.Fatalf("Load() = %+v", got)
	}
	if got[0].Stats.Llama13B != nil {
		t.Errorf("absent field came back present")
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "clients.json"))

	first := []*domain.Node{{ID: "a"}, {ID: "b"}}
	if err := s.Save(first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save([]*domain.Node{{ID: "c"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("Load() after overwrite = %+v", got)
	}
	if got[0].Jobs == nil {
		t.Errorf("Load() should normalise missing jobs to an empty list")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
	}{
		{name: "missing file"},
		{name: "truncated json", content: ptr(`{"nodes":[{"pid":"a"`)},
		{name: "wrong shape", content: ptr(`[1,2,3]`)},
		{name: "null entry", content: ptr(`{"nodes":[null]}`)},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatalf("case %d: WriteFile: %v", i, err)
				}
			}
			if _, err := NewStore(path).Load(); err == nil {
				t.Errorf("Load() should fail")
			}
		})
	}
}

func ptr(s string) *string { return &s }
