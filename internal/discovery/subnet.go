package discovery

import (
	"context"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
	"github.com/MrSnakeDoc/thalamus/internal/utils"
)

const defaultScanConcurrency = 32

// SubnetScan probes every host of each local IPv4 /24. A host that does not
// answer is skipped; this strategy never marks nodes offline.
type SubnetScan struct {
	prober      Prober
	reg         Registry
	log         logger.Logger
	port        int
	concurrency int

	// Candidates lists the host:port targets of one run.
	Candidates func() ([]string, error)
}

func NewSubnetScan(prober Prober, reg Registry, port, concurrency int, log logger.Logger) *SubnetScan {
	if concurrency <= 0 {
		concurrency = defaultScanConcurrency
	}
	s := &SubnetScan{
		prober:      prober,
		reg:         reg,
		log:         log.With(logger.String("strategy", StrategyScan)),
		port:        port,
		concurrency: concurrency,
	}
	s.Candidates = s.localHosts
	return s
}

func (s *SubnetScan) Name() string { return StrategyScan }

func (s *SubnetScan) Run(ctx context.Context) error {
	hosts, err := s.Candidates()
	if err != nil {
		return err
	}
	s.log.Debug("subnet scan started", logger.Int("candidates", len(hosts)))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, hp := range hosts {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.probe(ctx, hp)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *SubnetScan) probe(ctx context.Context, hostport string) {
	reply, err := s.prober.Version(ctx, hostport)
	telemetry.Probes.WithLabelValues(StrategyScan, telemetry.Outcome(err)).Inc()
	if err != nil {
		logProbeFailure(s.log, "no node at candidate", hostport, err)
		return
	}
	if err := s.reg.UpsertByVersionReply(ctx, reply, hostport, s.port); err != nil {
		s.log.Warn("scanned node rejected", logger.String("address", hostport), logger.Error(err))
	}
}

func (s *SubnetScan) localHosts() ([]string, error) {
	ips, err := utils.LocalIPv4()
	if err != nil {
		return nil, err
	}
	port := strconv.Itoa(s.port)
	var out []string
	for _, ip := range ips {
		for _, h := range utils.Subnet24Hosts(ip) {
			out = append(out, net.JoinHostPort(h, port))
		}
	}
	return out, nil
}
