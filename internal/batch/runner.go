package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pulsehound/pulsehound/internal/cache"
	"github.com/pulsehound/pulsehound/internal/collector"
	"github.com/pulsehound/pulsehound/internal/discovery"
	"github.com/pulsehound/pulsehound/internal/metadata"
	"github.com/pulsehound/pulsehound/internal/scoring"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Batch Runner — concurrency-bounded per-token pipeline executor.
// Tokens are processed in chunks of the concurrency limit; a chunk must
// fully settle before the next one starts. The barrier is the system's
// only backpressure mechanism: at most C tokens touch the cache and the
// upstream collaborators at any instant.
// ---------------------------------------------------------------------------

// TxCollector is the slice of the transaction collector the runner needs.
type TxCollector interface {
	Collect(ctx context.Context, address string, lookbackDays int) ([]collector.TransactionEvent, collector.TransactionStats, error)
}

// Options configure one batch run.
type Options struct {
	Concurrency  int
	ForceUpdate  bool
	LookbackDays int
}

// maxFailureSamples bounds the failure detail kept in a report.
const maxFailureSamples = 5

// Report is the counters snapshot for one run. The invariant
// Processed == Updated + Skipped + NoData + Failed holds at completion.
type Report struct {
	RunID          string        `json:"run_id"`
	Processed      int64         `json:"processed"`
	Updated        int64         `json:"updated"`
	Skipped        int64         `json:"skipped"`
	NoData         int64         `json:"no_data"`
	Failed         int64         `json:"failed"`
	FailureSamples []string      `json:"failure_samples,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Runner executes per-token scoring pipelines over a token list.
type Runner struct {
	store     cache.Store
	collector TxCollector
	metadata  metadata.Client
	now       func() time.Time
}

// NewRunner creates a batch runner.
func NewRunner(store cache.Store, col TxCollector, meta metadata.Client) *Runner {
	return &Runner{store: store, collector: col, metadata: meta, now: time.Now}
}

// Run processes the token list and returns the final report. Individual
// token faults never abort the chunk or the batch.
func (r *Runner) Run(ctx context.Context, tokens []discovery.Token, opts Options) Report {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 7
	}

	runID := uuid.NewString()
	start := r.now()

	log.Info().
		Str("run_id", runID).
		Int("tokens", len(tokens)).
		Int("concurrency", opts.Concurrency).
		Bool("force_update", opts.ForceUpdate).
		Msg("batch: run started")

	var processed, updated, skipped, noData, failed atomic.Int64
	var sampleMu sync.Mutex
	var samples []string

	recordFailure := func(address string, err error) {
		failed.Add(1)
		sampleMu.Lock()
		if len(samples) < maxFailureSamples {
			samples = append(samples, fmt.Sprintf("%s: %v", address, err))
			log.Warn().Str("run_id", runID).Str("token", address).Err(err).Msg("batch: token failed")
		}
		sampleMu.Unlock()
	}

	for chunkStart := 0; chunkStart < len(tokens); chunkStart += opts.Concurrency {
		chunkEnd := chunkStart + opts.Concurrency
		if chunkEnd > len(tokens) {
			chunkEnd = len(tokens)
		}
		chunk := tokens[chunkStart:chunkEnd]

		var wg sync.WaitGroup
		for _, token := range chunk {
			token := token
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if rec := recover(); rec != nil {
						recordFailure(token.Address, fmt.Errorf("panic: %v", rec))
					}
					processed.Add(1)
				}()

				switch outcome, err := r.processToken(ctx, token, opts); outcome {
				case outcomeUpdated:
					updated.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				case outcomeNoData:
					noData.Add(1)
				case outcomeFailed:
					recordFailure(token.Address, err)
				}
			}()
		}
		// Barrier: the whole chunk settles before the next one is dispatched.
		wg.Wait()

		log.Info().
			Str("run_id", runID).
			Int64("processed", processed.Load()).
			Int64("updated", updated.Load()).
			Int64("skipped", skipped.Load()).
			Int64("no_data", noData.Load()).
			Int64("failed", failed.Load()).
			Msg("batch: chunk complete")
	}

	report := Report{
		RunID:          runID,
		Processed:      processed.Load(),
		Updated:        updated.Load(),
		Skipped:        skipped.Load(),
		NoData:         noData.Load(),
		Failed:         failed.Load(),
		FailureSamples: samples,
		Duration:       r.now().Sub(start),
	}

	log.Info().
		Str("run_id", runID).
		Int64("processed", report.Processed).
		Int64("updated", report.Updated).
		Int64("skipped", report.Skipped).
		Int64("no_data", report.NoData).
		Int64("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("batch: run complete")

	return report
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeSkipped
	outcomeNoData
	outcomeFailed
)

// processToken runs the per-token pipeline:
// cache check -> collect -> metadata -> score -> persist.
func (r *Runner) processToken(ctx context.Context, token discovery.Token, opts Options) (outcome, error) {
	if !opts.ForceUpdate {
		exists, err := r.store.Exists(ctx, token.Address)
		if err != nil {
			return outcomeFailed, err
		}
		if exists {
			return outcomeSkipped, nil
		}
	}

	events, stats, err := r.collector.Collect(ctx, token.Address, opts.LookbackDays)
	if err != nil {
		return outcomeFailed, err
	}
	if len(events) == 0 {
		return outcomeNoData, nil
	}

	data, err := r.metadata.TokenData(ctx, token.Address)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return outcomeNoData, nil
		}
		return outcomeFailed, err
	}

	// One accumulator per pass; it is single-use and not goroutine safe.
	acc := scoring.NewAccumulator()
	acc.AddTransactions(events, stats)
	acc.AddTokenData(*data)
	metrics := acc.Analyze()

	record := &cache.CachedTokenRecord{
		Address:       token.Address,
		ChainID:       token.ChainID,
		ChainName:     token.ChainName,
		TrendingScore: metrics.TrendingScore,
		Block:         token.FirstSeenBlock,
		Timestamp:     token.FirstSeenTimestamp,
		AgeHours:      token.AgeHours,
		LastUpdated:   r.now().Unix(),
		Metrics:       metrics,
	}
	if err := r.store.Set(ctx, record); err != nil {
		return outcomeFailed, err
	}
	return outcomeUpdated, nil
}
