package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/thalamus/internal/benchmark"
	"github.com/MrSnakeDoc/thalamus/internal/config"
	"github.com/MrSnakeDoc/thalamus/internal/discovery"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver"
	"github.com/MrSnakeDoc/thalamus/internal/httpserver/deps"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/mdns"
	"github.com/MrSnakeDoc/thalamus/internal/peer"
	"github.com/MrSnakeDoc/thalamus/internal/redis"
	"github.com/MrSnakeDoc/thalamus/internal/registry"
	"github.com/MrSnakeDoc/thalamus/internal/scheduler"
	"github.com/MrSnakeDoc/thalamus/internal/store/file"
	redisstore "github.com/MrSnakeDoc/thalamus/internal/store/redis"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
	"github.com/MrSnakeDoc/thalamus/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	nodeID      string
	server      *httpserver.Server
	redisClient *goredis.Client
	registry    *registry.Registry
	bench       *benchmark.Runner
	responder   *mdns.Responder
	runners     []*scheduler.DiscoveryRunner
	ready       atomic.Bool
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	nodeID := uuid.NewString()
	telemetry.SetBuildInfo(version.Version, nodeID)

	a := &App{cfg: cfg, logger: loggerClient, nodeID: nodeID}

	client := peer.NewClient(cfg.ProbeTimeout)
	a.bench = benchmark.NewRunner(client, benchmark.Config{
		AudioPath: cfg.AudioPath,
		ImagePath: cfg.ImagePath,
		Ceiling:   cfg.BenchmarkCeiling,
	}, loggerClient)

	// Restore never fails: a missing or corrupt snapshot yields an empty registry.
	a.registry = registry.Restore(a.bench, file.NewStore(cfg.StatePath), loggerClient)

	// Redis mirror is optional and best effort.
	var syncer *scheduler.RedisSyncer
	if cfg.RedisEnabled() {
		redisClient, err := redis.Connect(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("redis mirror disabled", logger.Error(err))
		} else {
			a.redisClient = redisClient
			syncer = scheduler.NewRedisSyncer(redisstore.NewStore(redisClient), a.registry, loggerClient)
			if err := syncer.Sync(context.Background()); err != nil {
				loggerClient.Warn("failed to seed registry from redis, relying on discovery",
					logger.Error(err))
			}
		}
	} else {
		loggerClient.Info("redis address not configured, registry mirror disabled")
	}

	strategies := []struct {
		strategy discovery.Strategy
		interval time.Duration
	}{
		{discovery.NewSubnetScan(client, a.registry, cfg.ServicePort, cfg.ScanConcurrency, loggerClient), cfg.ScanInterval},
		{discovery.NewMulticast(client, a.registry,
			mdns.NewBrowser(cfg.ServiceName, cfg.BrowseWindow, loggerClient),
			cfg.ServicePort, loggerClient), cfg.MulticastInterval},
		{discovery.NewGossip(client, a.registry, cfg.ProbeTimeout, loggerClient), cfg.GossipInterval},
	}

	after := scheduler.AfterRun(a.registry, syncer, loggerClient)
	triggers := make(map[string]chan struct{}, len(strategies))
	for _, s := range strategies {
		trigger := make(chan struct{}, 1)
		triggers[s.strategy.Name()] = trigger
		a.runners = append(a.runners,
			scheduler.NewDiscoveryRunner(s.strategy, s.interval, trigger, after, loggerClient))
	}

	a.responder = mdns.NewResponder(cfg.ServiceName, cfg.ServicePort, loggerClient)

	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		NodeID:       nodeID,
		Registry:     a.registry,
		Ready:        a.ready.Load,
		Triggers:     triggers,
		RedisClient:  a.redisClient,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
	}
	a.server = httpserver.New(cfg, loggerClient, d)
	a.ready.Store(true)

	return a
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Thalamus v%s on %s", version.Version, a.cfg.ListenAddr)
	a.logger.Infof("Thalamus %s (node=%s, commit=%s, built=%s, go=%s)",
		version.Version, a.nodeID, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	// The mesh still works through scan and gossip when multicast is unavailable.
	g.Go(func() error {
		if err := a.responder.Run(gctx); err != nil {
			a.logger.Error("mdns responder stopped", logger.Error(err))
		}
		return nil
	})

	for _, r := range a.runners {
		r.Start(gctx)
	}
	a.logger.Info("discovery started",
		logger.Duration("scan_interval", a.cfg.ScanInterval),
		logger.Duration("multicast_interval", a.cfg.MulticastInterval),
		logger.Duration("gossip_interval", a.cfg.GossipInterval))

	<-gctx.Done()
	a.logger.Info("⏳ Shutting down gracefully...")

	for _, r := range a.runners {
		r.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("failed to stop server", logger.Error(err))
	}

	runErr := g.Wait()

	a.waitBenchmarks(shutdownCtx)

	if err := a.registry.Persist(); err != nil {
		a.logger.Warn("final registry persist failed", logger.Error(err))
	} else {
		a.logger.Info("✅ Registry persisted", logger.Int("nodes", a.registry.Count()))
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	a.logger.Info("✅ Thalamus stopped cleanly")
	return nil
}

// waitBenchmarks joins abandoned language model probes, giving up at the
// shutdown deadline.
func (a *App) waitBenchmarks(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.bench.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("benchmark workers still running at shutdown")
	}
}
