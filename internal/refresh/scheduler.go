package refresh

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pulsehound/pulsehound/internal/batch"
	"github.com/pulsehound/pulsehound/internal/cache"
	"github.com/pulsehound/pulsehound/internal/discovery"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Refresh Scheduler — unattended interval driver over the shared cache.
// Each firing runs two phases: discover-and-score new tokens, then a full
// re-score of everything cached. Both phases share the store with any
// on-demand trigger; there is no cross-run lock (last writer wins per key).
// ---------------------------------------------------------------------------

// Discoverer is the slice of the discovery aggregator the scheduler needs.
type Discoverer interface {
	Discover(ctx context.Context, lookbackDays int, maxAgeHours float64) []discovery.Token
}

// BatchRunner is the slice of the batch runner the scheduler needs.
type BatchRunner interface {
	Run(ctx context.Context, tokens []discovery.Token, opts batch.Options) batch.Report
}

// Config configures the scheduler.
type Config struct {
	Interval            time.Duration `yaml:"interval"`
	NewTokenDays        int           `yaml:"new_token_days"`
	MaxNewTokens        int           `yaml:"max_new_tokens"`
	NewTokenConcurrency int           `yaml:"new_token_concurrency"`
	RescoreConcurrency  int           `yaml:"rescore_concurrency"`
}

// DefaultConfig returns the hourly defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            time.Hour,
		NewTokenDays:        1,
		MaxNewTokens:        500,
		NewTokenConcurrency: 10,
		RescoreConcurrency:  10,
	}
}

// Scheduler fires the two refresh phases on a fixed interval.
type Scheduler struct {
	config     Config
	discoverer Discoverer
	runner     BatchRunner
	store      cache.Store

	cancel  context.CancelFunc
	done    chan struct{}
	firings atomic.Int64
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(config Config, discoverer Discoverer, runner BatchRunner, store cache.Store) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Scheduler{
		config:     config,
		discoverer: discoverer,
		runner:     runner,
		store:      store,
		done:       make(chan struct{}),
	}
}

// Start begins the interval loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		log.Info().Dur("interval", s.config.Interval).Msg("refresh: scheduler started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("refresh: scheduler stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels future firings and waits for an in-flight pass to finish.
// A running batch completes its current work; only the loop is cancelled.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// RunOnce executes one full refresh pass: phase 1 scores tokens not yet
// cached, phase 2 re-scores the entire cache.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.firings.Add(1)
	s.runNewTokenPhase(ctx)
	s.runRescorePhase(ctx)
}

// SchedulerStats is a counters snapshot.
type SchedulerStats struct {
	Firings int64 `json:"firings"`
}

func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{Firings: s.firings.Load()}
}

// runNewTokenPhase discovers recent tokens absent from the cache and scores
// them without forcing overwrites.
func (s *Scheduler) runNewTokenPhase(ctx context.Context) {
	tokens := s.discoverer.Discover(ctx, s.config.NewTokenDays, float64(s.config.NewTokenDays)*24)

	fresh := make([]discovery.Token, 0, len(tokens))
	for _, tok := range tokens {
		exists, err := s.store.Exists(ctx, tok.Address)
		if err != nil {
			log.Warn().Err(err).Str("token", tok.Address).Msg("refresh: existence check failed")
			continue
		}
		if exists {
			continue
		}
		fresh = append(fresh, tok)
		if s.config.MaxNewTokens > 0 && len(fresh) >= s.config.MaxNewTokens {
			break
		}
	}

	if len(fresh) == 0 {
		log.Info().Msg("refresh: no new tokens this pass")
		return
	}

	report := s.runner.Run(ctx, fresh, batch.Options{
		Concurrency:  s.config.NewTokenConcurrency,
		ForceUpdate:  false,
		LookbackDays: s.config.NewTokenDays,
	})
	log.Info().
		Int64("updated", report.Updated).
		Int64("no_data", report.NoData).
		Int64("failed", report.Failed).
		Msg("refresh: new-token phase complete")
}

// runRescorePhase re-runs the pipeline over every cached token with
// forceUpdate, recomputing scores regardless of staleness.
func (s *Scheduler) runRescorePhase(ctx context.Context) {
	addresses, err := s.store.ListKeys(ctx)
	if err != nil {
		log.Error().Err(err).Msg("refresh: listing cache keys failed, skipping rescore")
		return
	}
	if len(addresses) == 0 {
		return
	}

	tokens := make([]discovery.Token, 0, len(addresses))
	for _, addr := range addresses {
		tok := discovery.Token{Address: addr}
		if rec, err := s.store.Get(ctx, addr); err == nil {
			tok.ChainID = rec.ChainID
			tok.ChainName = rec.ChainName
			tok.FirstSeenBlock = rec.Block
			tok.FirstSeenTimestamp = rec.Timestamp
			tok.AgeHours = rec.AgeHours
		}
		tokens = append(tokens, tok)
	}

	report := s.runner.Run(ctx, tokens, batch.Options{
		Concurrency: s.config.RescoreConcurrency,
		ForceUpdate: true,
	})
	log.Info().
		Int64("processed", report.Processed).
		Int64("updated", report.Updated).
		Int64("failed", report.Failed).
		Msg("refresh: rescore phase complete")
}
