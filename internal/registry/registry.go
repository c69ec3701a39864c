package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

// ErrNodeNotFound is returned by job operations on an unknown node id.
var ErrNodeNotFound = errors.New("node not found")

// Benchmarker validates a newly discovered node.
type Benchmarker interface {
	Run(ctx context.Context, n *domain.Node) (domain.Stats, error)
}

// Store is the durable snapshot backend.
type Store interface {
	Save(nodes []*domain.Node) error
	Load() ([]*domain.Node, error)
}

// Registry is the canonical table of known nodes.
//
// All read-modify-write sequences hold mu. Callers never receive pointers
// into the table; Snapshot and Get return clones. Network I/O (the
// benchmark) always runs with mu released.
type Registry struct {
	mu    sync.Mutex
	nodes []*domain.Node // insertion order

	persistMu sync.Mutex
	builds    singleflight.Group

	bench Benchmarker
	store Store
	log   logger.Logger
	now   func() time.Time
}

// New returns an empty registry.
func New(bench Benchmarker, store Store, log logger.Logger) *Registry {
	return &Registry{
		nodes: []*domain.Node{},
		bench: bench,
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Restore loads the durable snapshot. A missing or unreadable snapshot is
// logged and replaced by an empty registry that is persisted right away,
// so startup never fails on corrupt state.
func Restore(bench Benchmarker, store Store, log logger.Logger) *Registry {
	r := New(bench, store, log)

	nodes, err := store.Load()
	if err != nil {
		log.Error("unable to read registry snapshot, starting empty", logger.Error(err))
		if err := r.Persist(); err != nil {
			log.Warn("failed to persist fresh registry", logger.Error(err))
		}
		return r
	}

	unique := dedupByID(nodes)
	if dropped := len(nodes) - len(unique); dropped > 0 {
		log.Warn("snapshot held duplicate node ids, keeping the first of each",
			logger.Int("dropped", dropped))
	}

	r.mu.Lock()
	r.nodes = unique
	r.observeLocked()
	r.mu.Unlock()

	log.Info("registry restored", logger.Int("nodes", len(unique)))
	return r
}

// UpsertByVersionReply applies a successful liveness probe. A known id is
// touched; an unknown id is benchmarked and inserted. Concurrent calls for
// the same new id share a single benchmark.
func (r *Registry) UpsertByVersionReply(ctx context.Context, reply domain.VersionReply, address string, defaultPort int) error {
	if r.touch(reply.ID) {
		return nil
	}

	built, err := r.build(ctx, reply, address, defaultPort)
	if err != nil {
		return fmt.Errorf("node %s at %s could not be validated: %w", reply.ID, address, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findLocked(reply.ID); existing != nil {
		existing.Touch(r.now())
		r.observeLocked()
		return nil
	}
	r.nodes = append(r.nodes, built.Clone())
	r.observeLocked()

	r.log.Info("node registered",
		logger.String("node_id", reply.ID),
		logger.String("address", address),
		logger.String("version", reply.Version))
	return nil
}

// MarkOfflineByAddress flags the first node at address offline. It returns
// false when no node has that address.
func (r *Registry) MarkOfflineByAddress(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.nodes {
		if n.Address == address {
			n.Online = false
			r.observeLocked()
			return true
		}
	}
	return false
}

// MergeDiscoveredPeer applies a peer learned through gossip. A known id
// only has its last-seen time advanced; an unknown one is inserted as
// reported, stats included. It returns true on insert.
func (r *Registry) MergeDiscoveredPeer(peer *domain.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findLocked(peer.ID); existing != nil {
		existing.LastSeen = r.now().Unix()
		return false
	}
	r.nodes = append(r.nodes, peer.Clone())
	r.observeLocked()
	return true
}

// Snapshot returns a point-in-time copy of every node.
func (r *Registry) Snapshot() []*domain.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.Clone())
	}
	return out
}

// Get returns a copy of the node with id.
func (r *Registry) Get(id string) (*domain.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.findLocked(id); n != nil {
		return n.Clone(), true
	}
	return nil, false
}

// Count returns the number of nodes, online or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.nodes)
}

// StartJob records an in-flight job on node id.
func (r *Registry) StartJob(id, url string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.findLocked(id)
	if n == nil {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	job := domain.NewJob(url, r.now())
	n.Jobs = append(n.Jobs, job)
	return job, nil
}

// FinishJob removes jobID from node id. It returns false when either is unknown.
func (r *Registry) FinishJob(id, jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.findLocked(id)
	if n == nil {
		return false
	}
	for i, j := range n.Jobs {
		if j.ID == jobID {
			n.Jobs = append(n.Jobs[:i], n.Jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Persist overwrites the durable snapshot with the current table. The
// in-memory table stays authoritative when this fails.
func (r *Registry) Persist() error {
	nodes := r.Snapshot()

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if err := r.store.Save(nodes); err != nil {
		return fmt.Errorf("failed to persist registry: %w", err)
	}
	return nil
}

// build benchmarks a new node. Concurrent callers for one id share a single
// benchmark, which runs under the context of the caller that started it.
// A waiter whose own context is still live retries once when that shared
// run was cancelled.
func (r *Registry) build(ctx context.Context, reply domain.VersionReply, address string, defaultPort int) (*domain.Node, error) {
	for attempt := 0; ; attempt++ {
		ch := r.builds.DoChan(reply.ID, func() (any, error) {
			n := domain.NewNode(reply.ID, reply.Version, address, defaultPort, r.now())
			stats, err := r.bench.Run(ctx, n)
			if err != nil {
				return nil, err
			}
			n.Stats = stats
			return n, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(*domain.Node), nil
			}
			if attempt == 0 && ctx.Err() == nil && isContextErr(res.Err) {
				continue
			}
			return nil, res.Err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// dedupByID keeps the first node seen for each id, in order.
func dedupByID(nodes []*domain.Node) []*domain.Node {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]*domain.Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (r *Registry) touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.findLocked(id); n != nil {
		n.Touch(r.now())
		r.observeLocked()
		return true
	}
	return false
}

func (r *Registry) findLocked(id string) *domain.Node {
	for _, n := range r.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (r *Registry) observeLocked() {
	online := 0
	for _, n := range r.nodes {
		if n.Online {
			online++
		}
	}
	telemetry.KnownNodes.Set(float64(len(r.nodes)))
	telemetry.OnlineNodes.Set(float64(online))
}
