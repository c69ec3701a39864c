// Package discovery finds peer nodes and reports them into the registry.
//
// Three strategies exist and run independently of each other: SubnetScan
// probes every host of the local /24 networks, Multicast probes endpoints
// advertised over mDNS, and Gossip asks known nodes for the nodes they know.
package discovery

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

// Strategy names, also used as metric labels and trigger route keys.
const (
	StrategyScan      = "scan"
	StrategyMulticast = "multicast"
	StrategyGossip    = "gossip"
)

// Prober is the remote surface discovery needs from a node.
type Prober interface {
	Version(ctx context.Context, hostport string) (domain.VersionReply, error)
	Nodex(ctx context.Context, n *domain.Node) ([]*domain.Node, error)
}

// Registry receives discovery results.
type Registry interface {
	UpsertByVersionReply(ctx context.Context, reply domain.VersionReply, address string, defaultPort int) error
	MarkOfflineByAddress(address string) bool
	MergeDiscoveredPeer(peer *domain.Node) bool
	Snapshot() []*domain.Node
}

// Strategy is one way of finding candidate nodes. Run is idempotent and
// safe to re-invoke after an interrupted run.
type Strategy interface {
	Name() string
	Run(ctx context.Context) error
}

// logProbeFailure logs a malformed reply as an error. Anything else means
// nothing answered and is logged at debug.
func logProbeFailure(log logger.Logger, msg, address string, err error) {
	fields := []logger.Field{logger.String("address", address), logger.Error(err)}
	if errors.Is(err, domain.ErrMalformedReply) {
		log.Error(msg, fields...)
		return
	}
	log.Debug(msg, fields...)
}
