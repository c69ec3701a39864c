package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/discovery"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

// DiscoveryRunner re-invokes one discovery strategy periodically and on
// manual trigger. Runs of the same strategy never overlap.
type DiscoveryRunner struct {
	strategy      discovery.Strategy
	interval      time.Duration
	manualTrigger chan struct{}
	after         func(ctx context.Context)
	logger        logger.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewDiscoveryRunner creates a runner. after, when set, is invoked after
// every run whatever its outcome.
func NewDiscoveryRunner(
	strategy discovery.Strategy,
	interval time.Duration,
	manualTrigger chan struct{},
	after func(ctx context.Context),
	log logger.Logger,
) *DiscoveryRunner {
	return &DiscoveryRunner{
		strategy:      strategy,
		interval:      interval,
		manualTrigger: manualTrigger,
		after:         after,
		logger:        log.With(logger.String("strategy", strategy.Name())),
		done:          make(chan struct{}),
	}
}

// Start runs the strategy once immediately, then on every tick or trigger,
// in a background goroutine.
func (dr *DiscoveryRunner) Start(ctx context.Context) {
	ctx, dr.cancel = context.WithCancel(ctx)

	go func() {
		defer close(dr.done)

		dr.RunOnce(ctx)

		ticker := time.NewTicker(dr.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				dr.RunOnce(ctx)
			case <-dr.manualTrigger:
				dr.logger.Info("manual discovery run triggered")
				dr.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels an in-flight run and waits for the goroutine to exit.
func (dr *DiscoveryRunner) Stop() {
	dr.stopOnce.Do(func() {
		if dr.cancel == nil {
			close(dr.done)
			return
		}
		dr.cancel()
	})
	<-dr.done
}

// RunOnce executes the strategy and the after hook synchronously.
func (dr *DiscoveryRunner) RunOnce(ctx context.Context) {
	start := time.Now()
	err := dr.strategy.Run(ctx)
	telemetry.DiscoveryRuns.WithLabelValues(dr.strategy.Name(), telemetry.Outcome(err)).Inc()

	if err != nil && ctx.Err() == nil {
		dr.logger.Error("discovery run failed", logger.Error(err))
	} else {
		dr.logger.Debug("discovery run finished", logger.Duration("elapsed", time.Since(start)))
	}

	if dr.after != nil && ctx.Err() == nil {
		dr.after(ctx)
	}
}

// Persister is the registry surface the after-run hook needs.
type Persister interface {
	Persist() error
}

// AfterRun returns the hook shared by all runners: persist the registry to
// disk and, when a mirror is configured, push it to Redis. Failures are
// logged; the in-memory registry stays authoritative.
func AfterRun(reg Persister, mirror *RedisSyncer, log logger.Logger) func(ctx context.Context) {
	var mu sync.Mutex
	return func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()

		if err := reg.Persist(); err != nil {
			log.Warn("failed to persist registry", logger.Error(err))
		}
		if mirror != nil {
			if err := mirror.Mirror(ctx); err != nil {
				log.Warn("failed to mirror registry to redis", logger.Error(err))
			}
		}
	}
}
