package scan

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Event Scanner — paginated, rate-respecting log puller per chain
// ---------------------------------------------------------------------------

// ScannerConfig configures the paginated event scanner.
type ScannerConfig struct {
	// Records per request. Responses shorter than this end the pagination.
	PageLimit int `yaml:"page_limit"`

	// Fixed delay between consecutive requests to one chain.
	RequestDelayMs int `yaml:"request_delay_ms"`

	// Channel buffer between the puller and the consumer.
	BufferSize int `yaml:"buffer_size"`
}

// DefaultScannerConfig returns the upstream-safe defaults.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		PageLimit:      100_000,
		RequestDelayMs: 200,
		BufferSize:     4096,
	}
}

// Window selects the block range to scan. Either LookbackDays or an
// explicit FromBlock/ToBlock pair.
type Window struct {
	LookbackDays int
	FromBlock    uint64
	ToBlock      uint64
}

// Scanner pulls paginated logs from one or more chains.
type Scanner struct {
	config ScannerConfig
	client LogClient

	pagesPulled   atomic.Int64
	logsEmitted   atomic.Int64
	logsDiscarded atomic.Int64
}

// NewScanner creates a scanner on top of a LogClient.
func NewScanner(config ScannerConfig, client LogClient) *Scanner {
	if config.PageLimit <= 0 {
		config.PageLimit = DefaultScannerConfig().PageLimit
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultScannerConfig().BufferSize
	}
	return &Scanner{config: config, client: client}
}

// fromBlockFor computes the scan start block for a lookback window.
func fromBlockFor(chain chains.Chain, head uint64, days int) uint64 {
	if days <= 0 {
		return head
	}
	span := uint64(float64(days*24*3600) / chain.BlockTimeSecs)
	if span >= head {
		return 0
	}
	return head - span
}

// Stream scans one chain over the given window and emits matching logs on
// the returned channel. The sequence is lazy, finite and non-restartable:
// the channel closes when the range is exhausted, a page comes back short,
// or the context is cancelled. A terminal upstream failure is delivered on
// the error channel (capacity 1) after the log channel closes.
func (s *Scanner) Stream(ctx context.Context, chain chains.Chain, window Window, topic0 string) (<-chan RawLog, <-chan error) {
	out := make(chan RawLog, s.config.BufferSize)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		from, to := window.FromBlock, window.ToBlock
		if from == 0 {
			head, err := s.client.LatestBlock(ctx, chain.ID)
			if err != nil {
				errCh <- err
				return
			}
			from = fromBlockFor(chain, head, window.LookbackDays)
			if to == 0 {
				to = head
			}
		}

		log.Info().
			Str("chain", chain.Name).
			Uint64("from_block", from).
			Uint64("to_block", to).
			Int("page_limit", s.config.PageLimit).
			Msg("scan: starting paginated pull")

		delay := time.Duration(s.config.RequestDelayMs) * time.Millisecond
		cursor := from

		// A full page can truncate inside its last block, so the next
		// query restarts from that boundary block and the records already
		// delivered for it are skipped by position. A single block holding
		// more logs than the page limit still loses its tail.
		var skipBlock uint64
		skip := 0

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			page, err := s.client.GetLogs(ctx, LogQuery{
				ChainID:   chain.ID,
				FromBlock: cursor,
				ToBlock:   to,
				Topic0:    topic0,
				Limit:     s.config.PageLimit,
			})
			if err != nil {
				errCh <- err
				return
			}
			s.pagesPulled.Add(1)

			var lastBlock uint64
			atLast, newLogs, skipped := 0, 0, 0
			for _, l := range page {
				if l.BlockNumber == skipBlock && skipped < skip {
					skipped++
					continue
				}
				newLogs++
				if l.BlockNumber > lastBlock {
					lastBlock = l.BlockNumber
					atLast = 0
				}
				if l.BlockNumber == lastBlock {
					atLast++
				}
				// Malformed records are dropped, never surfaced as errors.
				if l.Address == "" || len(l.Topics) == 0 {
					s.logsDiscarded.Add(1)
					continue
				}
				select {
				case out <- l:
					s.logsEmitted.Add(1)
				case <-ctx.Done():
					return
				}
			}

			// A short page signals the end of the available range.
			if len(page) < s.config.PageLimit {
				return
			}

			if newLogs == 0 {
				// The boundary block fills the whole page; move past it.
				cursor = skipBlock + 1
				skipBlock, skip = 0, 0
			} else {
				// Bail if the upstream cannot move the cursor forward.
				if lastBlock < cursor {
					return
				}
				if lastBlock == skipBlock {
					skip += atLast
				} else {
					skipBlock, skip = lastBlock, atLast
				}
				cursor = lastBlock
			}
			if to > 0 && cursor > to {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()

	return out, errCh
}

// ScannerStats is a counters snapshot.
type ScannerStats struct {
	PagesPulled   int64 `json:"pages_pulled"`
	LogsEmitted   int64 `json:"logs_emitted"`
	LogsDiscarded int64 `json:"logs_discarded"`
}

func (s *Scanner) Stats() ScannerStats {
	return ScannerStats{
		PagesPulled:   s.pagesPulled.Load(),
		LogsEmitted:   s.logsEmitted.Load(),
		LogsDiscarded: s.logsDiscarded.Load(),
	}
}
