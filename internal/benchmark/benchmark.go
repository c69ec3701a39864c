// Package benchmark measures a node's inference capabilities once, when
// the node is first registered.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/telemetry"
)

// DefaultCeiling bounds each text-generation probe.
const DefaultCeiling = 60 * time.Second

const llamaPrompt = "Tell me about Abraham Lincoln."

// ErrProbeTimeout is reported when a bounded probe exceeds the ceiling.
var ErrProbeTimeout = errors.New("probe exceeded ceiling")

var (
	whisperSizes = []string{"tiny", "base", "medium", "large"}
	llamaTiers   = []string{"7B", "13B", "30B", "65B"}
)

// Services is the subset of the peer contract the benchmark exercises.
type Services interface {
	WhisperSTT(ctx context.Context, hostport, method, audioPath string) (domain.STTReply, error)
	WhisperVWAV(ctx context.Context, hostport, method, audioPath string) ([]byte, error)
	SRGAN(ctx context.Context, hostport, imagePath string) ([]byte, error)
	Llama(ctx context.Context, hostport, model, prompt string) (string, error)
}

type Config struct {
	AudioPath string        // reference audio uploaded to whisper and vwav
	ImagePath string        // reference image uploaded to srgan
	Ceiling   time.Duration // per text-generation probe
}

// Runner executes the fixed probe battery.
//
// Speech, vocoder and upscaling probes are blocking and fail-fast: the
// first error aborts the whole run. Text-generation probes each run in
// their own goroutine and are recorded absent when they fail or outlive
// the ceiling.
type Runner struct {
	svc Services
	cfg Config
	log logger.Logger

	// workers tracks bounded probes that may outlive their waiter.
	workers sync.WaitGroup
}

func NewRunner(svc Services, cfg Config, log logger.Logger) *Runner {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	return &Runner{svc: svc, cfg: cfg, log: log}
}

// Run benchmarks n and returns its stats. Aggregate score fields are
// left nil.
func (r *Runner) Run(ctx context.Context, n *domain.Node) (domain.Stats, error) {
	var stats domain.Stats
	hp := n.HostPort()
	log := r.log.With(logger.String("node_id", n.ID), logger.String("address", hp))
	log.Info("calculating node stats")

	stt := []**int64{&stats.WhisperSTTTiny, &stats.WhisperSTTBase, &stats.WhisperSTTMedium, &stats.WhisperSTTLarge}
	for i, size := range whisperSizes {
		ms, err := r.timed(log, "whisper_stt_"+size, func() error {
			_, err := r.svc.WhisperSTT(ctx, hp, size, r.cfg.AudioPath)
			return err
		})
		if err != nil {
			return domain.Stats{}, err
		}
		*stt[i] = ms
	}

	vwav := []**int64{&stats.WhisperVWAVTiny, &stats.WhisperVWAVBase, &stats.WhisperVWAVMedium, &stats.WhisperVWAVLarge}
	for i, size := range whisperSizes {
		ms, err := r.timed(log, "whisper_vwav_"+size, func() error {
			_, err := r.svc.WhisperVWAV(ctx, hp, size, r.cfg.AudioPath)
			return err
		})
		if err != nil {
			return domain.Stats{}, err
		}
		*vwav[i] = ms
	}

	llama := []**int64{&stats.Llama7B, &stats.Llama13B, &stats.Llama30B, &stats.Llama65B}
	for i, tier := range llamaTiers {
		ms, err := r.bounded(ctx, log, hp, tier)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Stats{}, fmt.Errorf("llama_%s: %w", tier, ctx.Err())
			}
			log.Error("llama probe recorded absent",
				logger.String("model", tier), logger.Error(err))
			continue
		}
		*llama[i] = ms
	}

	ms, err := r.timed(log, "srgan", func() error {
		_, err := r.svc.SRGAN(ctx, hp, r.cfg.ImagePath)
		return err
	})
	if err != nil {
		return domain.Stats{}, err
	}
	stats.SRGANScore = ms

	return stats, nil
}

// Wait blocks until every bounded probe goroutine has returned,
// including those whose waiter already gave up.
func (r *Runner) Wait() {
	r.workers.Wait()
}

func (r *Runner) timed(log logger.Logger, axis string, fn func() error) (*int64, error) {
	log.Info("running benchmark probe", logger.String("axis", axis))
	start := time.Now()
	if err := fn(); err != nil {
		return nil, fmt.Errorf("%s: %w", axis, err)
	}
	elapsed := time.Since(start)
	telemetry.BenchmarkDuration.WithLabelValues(axis).Observe(elapsed.Seconds())
	log.Info("benchmark probe complete",
		logger.String("axis", axis), logger.Int64("millis", elapsed.Milliseconds()))
	return domain.Millis(elapsed.Milliseconds()), nil
}

type probeResult struct {
	millis int64
	err    error
}

// bounded runs one llama probe in its own goroutine and waits at most the
// ceiling for it. A worker that outlives its waiter finishes on its own;
// its result is dropped into the buffered channel and never read.
func (r *Runner) bounded(ctx context.Context, log logger.Logger, hp, tier string) (*int64, error) {
	axis := "llama_" + tier
	log.Info("running benchmark probe", logger.String("axis", axis))

	result := make(chan probeResult, 1)
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		start := time.Now()
		_, err := r.svc.Llama(ctx, hp, tier, llamaPrompt)
		result <- probeResult{millis: time.Since(start).Milliseconds(), err: err}
	}()

	timer := time.NewTimer(r.cfg.Ceiling)
	defer timer.Stop()

	select {
	case res := <-result:
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", axis, res.err)
		}
		telemetry.BenchmarkDuration.WithLabelValues(axis).Observe(float64(res.millis) / 1000)
		log.Info("benchmark probe complete",
			logger.String("axis", axis), logger.Int64("millis", res.millis))
		return domain.Millis(res.millis), nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", axis, ErrProbeTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
