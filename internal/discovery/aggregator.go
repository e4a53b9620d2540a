package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/pulsehound/pulsehound/internal/scan"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Token Discovery Aggregator — first-seen token extraction across chains
// ---------------------------------------------------------------------------

// Token is a newly discovered token contract. Unique per (chain, address)
// within one scan pass; immutable once produced.
type Token struct {
	Address            string  `json:"address"`
	ChainID            int64   `json:"chain_id"`
	ChainName          string  `json:"chain_name"`
	FirstSeenBlock     uint64  `json:"first_seen_block"`
	FirstSeenTimestamp int64   `json:"first_seen_timestamp"`
	AgeHours           float64 `json:"age_hours"`
	DiscoveryTxHash    string  `json:"discovery_tx_hash"`
}

// Aggregator merges per-chain scanned logs into a deduplicated token set.
type Aggregator struct {
	scanner  *scan.Scanner
	registry *chains.Registry
	now      func() time.Time
}

// NewAggregator creates an aggregator over the given scanner and registry.
func NewAggregator(scanner *scan.Scanner, registry *chains.Registry) *Aggregator {
	return &Aggregator{scanner: scanner, registry: registry, now: time.Now}
}

// collectChain folds one chain's Transfer stream into a first-seen map.
// Insertion is O(1) per record; input volume can reach millions of logs, so
// records are folded as they arrive rather than accumulated into slices.
func (a *Aggregator) collectChain(ctx context.Context, chain chains.Chain, window scan.Window) (map[string]Token, error) {
	logCh, errCh := a.scanner.Stream(ctx, chain, window, scan.TopicTransfer)

	seen := make(map[string]Token)
	for l := range logCh {
		existing, ok := seen[l.Address]
		if ok && existing.FirstSeenTimestamp <= l.Timestamp {
			continue
		}
		// Earliest observation wins.
		seen[l.Address] = Token{
			Address:            l.Address,
			ChainID:            chain.ID,
			ChainName:          chain.Name,
			FirstSeenBlock:     l.BlockNumber,
			FirstSeenTimestamp: l.Timestamp,
			DiscoveryTxHash:    l.TxHash,
		}
	}

	if err := <-errCh; err != nil {
		return nil, err
	}
	return seen, nil
}

// Discover scans every configured chain in parallel and returns tokens first
// seen within maxAgeHours, newest first not guaranteed (map order). A chain
// whose scan fails is logged and skipped; the remaining chains still count.
func (a *Aggregator) Discover(ctx context.Context, lookbackDays int, maxAgeHours float64) []Token {
	type chainResult struct {
		chain  chains.Chain
		tokens map[string]Token
		err    error
	}

	all := a.registry.All()
	results := make([]chainResult, len(all))

	var wg sync.WaitGroup
	for i, chain := range all {
		i, chain := i, chain
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens, err := a.collectChain(ctx, chain, scan.Window{LookbackDays: lookbackDays})
			results[i] = chainResult{chain: chain, tokens: tokens, err: err}
		}()
	}
	wg.Wait()

	// Per-chain maps are merged by appending: the same address on two chains
	// is two different contracts, not a duplicate.
	now := a.now()
	var out []Token
	for _, res := range results {
		if res.err != nil {
			log.Warn().Err(res.err).Str("chain", res.chain.Name).Msg("discovery: chain scan failed, skipping")
			continue
		}
		for _, tok := range res.tokens {
			tok.AgeHours = now.Sub(time.Unix(tok.FirstSeenTimestamp, 0)).Hours()
			if maxAgeHours > 0 && tok.AgeHours > maxAgeHours {
				continue
			}
			out = append(out, tok)
		}
		log.Info().
			Str("chain", res.chain.Name).
			Int("unique_tokens", len(res.tokens)).
			Msg("discovery: chain scan complete")
	}

	log.Info().Int("tokens", len(out)).Float64("max_age_hours", maxAgeHours).Msg("discovery: merge complete")
	return out
}
