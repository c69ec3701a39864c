package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

const (
	gossipFanout = 8

	// A peer that keeps failing is left alone for gossipCooldown after
	// gossipTripAfter consecutive failed exchanges.
	gossipTripAfter = 5
	gossipCooldown  = 5 * time.Minute
)

// Gossip asks every known node for its own peer list and merges the
// answers. The queried node's liveness is never changed by this strategy.
type Gossip struct {
	prober  Prober
	reg     Registry
	log     logger.Logger
	timeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewGossip(prober Prober, reg Registry, timeout time.Duration, log logger.Logger) *Gossip {
	return &Gossip{
		prober:   prober,
		reg:      reg,
		log:      log.With(logger.String("strategy", StrategyGossip)),
		timeout:  timeout,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *Gossip) Name() string { return StrategyGossip }

func (g *Gossip) Run(ctx context.Context) error {
	var eg errgroup.Group
	eg.SetLimit(gossipFanout)
	for _, n := range g.reg.Snapshot() {
		eg.Go(func() error {
			g.exchange(ctx, n)
			return nil
		})
	}
	_ = eg.Wait()
	return ctx.Err()
}

func (g *Gossip) exchange(ctx context.Context, n *domain.Node) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := g.breaker(n.ID).Execute(func() (interface{}, error) {
		return g.prober.Nodex(ctx, n)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		telemetry.Probes.WithLabelValues(StrategyGossip, "skipped").Inc()
		g.log.Debug("peer list exchange skipped, breaker open", logger.String("node_id", n.ID))
		return
	}
	telemetry.Probes.WithLabelValues(StrategyGossip, telemetry.Outcome(err)).Inc()
	if errors.Is(err, domain.ErrMalformedReply) {
		g.log.Error("peer list reply malformed",
			logger.String("node_id", n.ID),
			logger.String("address", n.HostPort()),
			logger.Error(err))
		return
	}
	if err != nil {
		g.log.Warn("peer list exchange failed",
			logger.String("node_id", n.ID),
			logger.String("address", n.HostPort()),
			logger.Error(err))
		return
	}

	learned := 0
	for _, p := range res.([]*domain.Node) {
		if p == nil || p.ID == "" {
			continue
		}
		if g.reg.MergeDiscoveredPeer(p) {
			learned++
		}
	}
	if learned > 0 {
		g.log.Info("learned peers through gossip",
			logger.String("via", n.ID),
			logger.Int("count", learned))
	}
}

// breaker returns the circuit breaker guarding exchanges with one node.
func (g *Gossip) breaker(id string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[id]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     gossipCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= gossipTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Info("gossip breaker state changed",
				logger.String("node_id", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	g.breakers[id] = cb
	return cb
}
