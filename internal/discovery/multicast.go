package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/mdns"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
	"github.com/MrSnakeDoc/thalamus/internal/utils"
)

// ServiceCatalog lists the endpoints currently advertised on the LAN.
type ServiceCatalog interface {
	KnownServices(ctx context.Context) ([]mdns.ServiceEndpoint, error)
}

// Multicast probes every advertised endpoint. Liveness is tracked by
// address: a failed probe flags whichever node holds that address offline.
type Multicast struct {
	prober  Prober
	reg     Registry
	catalog ServiceCatalog
	log     logger.Logger
	port    int
}

func NewMulticast(prober Prober, reg Registry, catalog ServiceCatalog, port int, log logger.Logger) *Multicast {
	return &Multicast{
		prober:  prober,
		reg:     reg,
		catalog: catalog,
		log:     log.With(logger.String("strategy", StrategyMulticast)),
		port:    port,
	}
}

func (m *Multicast) Name() string { return StrategyMulticast }

func (m *Multicast) Run(ctx context.Context) error {
	services, err := m.catalog.KnownServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to browse services: %w", err)
	}

	var g errgroup.Group
	for _, svc := range services {
		port := strconv.Itoa(svc.Port)
		for _, ip := range svc.IPs {
			if utils.IsGatewayLike(ip) {
				continue
			}
			hostport := net.JoinHostPort(ip, port)
			g.Go(func() error {
				m.probe(ctx, hostport)
				return nil
			})
		}
	}
	_ = g.Wait()
	return ctx.Err()
}

func (m *Multicast) probe(ctx context.Context, hostport string) {
	reply, err := m.prober.Version(ctx, hostport)
	telemetry.Probes.WithLabelValues(StrategyMulticast, telemetry.Outcome(err)).Inc()
	if err != nil {
		logProbeFailure(m.log, "advertised node unreachable", hostport, err)
		m.reg.MarkOfflineByAddress(hostport)
		return
	}
	if err := m.reg.UpsertByVersionReply(ctx, reply, hostport, m.port); err != nil {
		m.log.Warn("advertised node rejected", logger.String("address", hostport), logger.Error(err))
	}
}
