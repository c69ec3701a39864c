package scheduler

import (
	"context"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

// NodeMirror is the Redis side of the registry.
type NodeMirror interface {
	GetAllNodes(ctx context.Context) ([]*domain.Node, error)
	SaveNodesMany(ctx context.Context, nodes []*domain.Node) error
}

// MirroredRegistry is the registry surface the syncer needs.
type MirroredRegistry interface {
	Count() int
	Snapshot() []*domain.Node
	MergeDiscoveredPeer(peer *domain.Node) bool
}

// RedisSyncer keeps the registry and its Redis mirror in step
type RedisSyncer struct {
	store  NodeMirror
	reg    MirroredRegistry
	logger logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(store NodeMirror, reg MirroredRegistry, log logger.Logger) *RedisSyncer {
	return &RedisSyncer{
		store:  store,
		reg:    reg,
		logger: log,
	}
}

// Sync seeds an empty registry from Redis. Mirrored nodes are merged like
// gossiped peers: trusted as stored, never re-benchmarked.
func (rs *RedisSyncer) Sync(ctx context.Context) error {
	if n := rs.reg.Count(); n > 0 {
		rs.logger.Debug("registry already populated, skipping redis seed", logger.Int("nodes", n))
		return nil
	}

	rs.logger.Info("seeding registry from redis")

	nodes, err := rs.store.GetAllNodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		rs.logger.Info("no nodes found in redis")
		return nil
	}

	added := 0
	for _, n := range nodes {
		if rs.reg.MergeDiscoveredPeer(n) {
			added++
		}
	}

	rs.logger.Info("seeded registry from redis", logger.Int("count", added))
	return nil
}

// Mirror pushes the current registry snapshot to Redis.
func (rs *RedisSyncer) Mirror(ctx context.Context) error {
	return rs.store.SaveNodesMany(ctx, rs.reg.Snapshot())
}
