package redis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
)

// fakeRedis keeps string values and a single id set in memory.
type fakeRedis struct {
	mu        sync.Mutex
	values    map[string]string
	ttls      map[string]time.Duration
	ids       map[string]struct{}
	pipelines int
	execErr   error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: map[string]string{},
		ttls:   map[string]time.Duration{},
		ids:    map[string]struct{}{},
	}
}

func (f *fakeRedis) SMembers(_ context.Context, _ string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.values[k]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeRedis) SRem(_ context.Context, _ string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.ids, m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) Pipeline() redis.Pipeliner {
	f.mu.Lock()
	f.pipelines++
	f.mu.Unlock()
	return &fakePipe{db: f}
}

// fakePipe queues Set and SAdd and applies them on Exec. Other Pipeliner
// methods are not implemented.
type fakePipe struct {
	redis.Pipeliner
	db  *fakeRedis
	ops []func()
}

func (p *fakePipe) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	p.ops = append(p.ops, func() {
		p.db.values[key] = string(value.([]byte))
		p.db.ttls[key] = ttl
	})
	return redis.NewStatusResult("OK", nil)
}

func (p *fakePipe) SAdd(_ context.Context, _ string, members ...interface{}) *redis.IntCmd {
	p.ops = append(p.ops, func() {
		for _, m := range members {
			p.db.ids[m.(string)] = struct{}{}
		}
	})
	return redis.NewIntResult(int64(len(members)), nil)
}

func (p *fakePipe) Exec(context.Context) ([]redis.Cmder, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	if p.db.execErr != nil {
		return nil, p.db.execErr
	}
	for _, op := range p.ops {
		op()
	}
	return nil, nil
}

func newTestStore() (*Store, *fakeRedis) {
	f := newFakeRedis()
	return &Store{client: f, ttl: DefaultNodeTTL}, f
}

func TestSaveNodesManyRoundTrip(t *testing.T) {
	s, f := newTestStore()

	a := domain.NewNode("a", "0.3.0", "10.0.0.2:8050", 8050, time.Unix(100, 0))
	a.Stats.Llama7B = domain.Millis(700)
	b := domain.NewNode("b", "0.3.0", "10.0.0.3:8050", 8050, time.Unix(100, 0))

	if err := s.SaveNodesMany(context.Background(), []*domain.Node{a, b}); err != nil {
		t.Fatalf("SaveNodesMany() error = %v", err)
	}
	if f.pipelines != 1 {
		t.Errorf("pipelines = %d, want 1", f.pipelines)
	}
	if ttl := f.ttls[NodeKey("a")]; ttl != DefaultNodeTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultNodeTTL)
	}

	nodes, err := s.GetAllNodes(context.Background())
	if err != nil {
		t.Fatalf("GetAllNodes() error = %v", err)
	}
	if len(nodes) != 2 || nodes[0].ID != "a" || nodes[1].ID != "b" {
		t.Fatalf("GetAllNodes() = %+v", nodes)
	}
	if nodes[0].Stats.Llama7B == nil || *nodes[0].Stats.Llama7B != 700 {
		t.Errorf("stats lost: %+v", nodes[0].Stats)
	}
	if nodes[0].Stats.Llama13B != nil {
		t.Errorf("absent stat became present")
	}
}

func TestSaveNodesManyEmptySkipsRedis(t *testing.T) {
	s, f := newTestStore()

	if err := s.SaveNodesMany(context.Background(), nil); err != nil {
		t.Fatalf("SaveNodesMany() error = %v", err)
	}
	if f.pipelines != 0 {
		t.Errorf("pipelines = %d, want 0", f.pipelines)
	}
}

func TestSaveNodesManyExecError(t *testing.T) {
	s, f := newTestStore()
	f.execErr = errors.New("connection reset")

	n := domain.NewNode("a", "0.3.0", "10.0.0.2:8050", 8050, time.Unix(100, 0))
	if err := s.SaveNodesMany(context.Background(), []*domain.Node{n}); !errors.Is(err, f.execErr) {
		t.Errorf("SaveNodesMany() error = %v, want wrapped exec error", err)
	}
}

func TestGetAllNodesPrunesExpiredIDs(t *testing.T) {
	s, f := newTestStore()

	n := domain.NewNode("live", "0.3.0", "10.0.0.2:8050", 8050, time.Unix(100, 0))
	if err := s.SaveNodesMany(context.Background(), []*domain.Node{n}); err != nil {
		t.Fatalf("SaveNodesMany() error = %v", err)
	}
	f.ids["expired"] = struct{}{}
	f.ids["garbled"] = struct{}{}
	f.values[NodeKey("garbled")] = "{not json"

	nodes, err := s.GetAllNodes(context.Background())
	if err != nil {
		t.Fatalf("GetAllNodes() error = %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "live" {
		t.Fatalf("GetAllNodes() = %+v, want only live", nodes)
	}
	if nodes[0].Jobs == nil {
		t.Errorf("jobs should decode as an empty list")
	}
	if _, ok := f.ids["expired"]; ok {
		t.Errorf("expired id was not pruned from the set")
	}
	if _, ok := f.ids["garbled"]; !ok {
		t.Errorf("unreadable value should be skipped, not pruned")
	}
}

func TestGetAllNodesEmptySet(t *testing.T) {
	s, _ := newTestStore()

	nodes, err := s.GetAllNodes(context.Background())
	if err != nil {
		t.Fatalf("GetAllNodes() error = %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("GetAllNodes() = %+v, want none", nodes)
	}
}
