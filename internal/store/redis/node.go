// Package redis mirrors the node registry into Redis so a fresh node on the
// same network can seed its table without waiting for discovery.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
)

// DefaultNodeTTL bounds how long a mirrored node survives without refresh.
const DefaultNodeTTL = 48 * time.Hour

// client is the part of *redis.Client the mirror uses.
type client interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Pipeline() redis.Pipeliner
}

// Store mirrors nodes as JSON values indexed by a set of ids.
type Store struct {
	client client
	ttl    time.Duration
}

// NewStore creates a new Redis store
func NewStore(c *redis.Client) *Store {
	return &Store{client: c, ttl: DefaultNodeTTL}
}

// GetAllNodes reads every mirrored node in one round trip. Ids whose value
// expired are pruned from the set; unreadable values are skipped.
func (s *Store) GetAllNodes(ctx context.Context) ([]*domain.Node, error) {
	ids, err := s.client.SMembers(ctx, KeyAllNodes).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get node IDs: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Node{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = NodeKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}

	nodes := make([]*domain.Node, 0, len(ids))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var n domain.Node
		if err := json.Unmarshal([]byte(raw), &n); err != nil || n.ID == "" {
			continue
		}
		if n.Jobs == nil {
			n.Jobs = []domain.Job{}
		}
		nodes = append(nodes, &n)
	}

	if len(expired) > 0 {
		if err := s.client.SRem(ctx, KeyAllNodes, expired...).Err(); err != nil {
			return nodes, fmt.Errorf("failed to prune expired node ids: %w", err)
		}
	}
	return nodes, nil
}

// SaveNodesMany writes every node and refreshes its TTL in one pipeline.
func (s *Store) SaveNodesMany(ctx context.Context, nodes []*domain.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal node %s: %w", n.ID, err)
		}
		pipe.Set(ctx, NodeKey(n.ID), data, s.ttl)
		pipe.SAdd(ctx, KeyAllNodes, n.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save nodes: %w", err)
	}
	return nil
}
