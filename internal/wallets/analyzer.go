package wallets

import (
	"context"
	"sort"
	"strings"

	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/pulsehound/pulsehound/internal/collector"
	"github.com/pulsehound/pulsehound/internal/scan"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Wallet Profit Analyzer — ranks wallets by net token-quantity flow and
// expands the winners into other tokens they touched recently.
//
// Profit here is a raw quantity delta (sold - bought), not a priced P&L:
// no price-at-transfer enters the calculation. Kept literal on purpose.
// ---------------------------------------------------------------------------

const (
	topWallets        = 5
	maxOtherTokens    = 50
	otherTokenWindow  = 1 // days of global Transfer history per wallet
	expansionPageSize = 10_000
)

// ProfitEntry is one wallet's accumulated flow for the analyzed token.
// Quantities are raw token units and serialize as strings.
type ProfitEntry struct {
	Address     string          `json:"address"`
	TotalBought decimal.Decimal `json:"total_bought"`
	TotalSold   decimal.Decimal `json:"total_sold"`
	Profit      decimal.Decimal `json:"profit"` // sold - bought, may be negative
	Chain       string          `json:"chain"`
}

// OtherToken is one (token, chain) pair a top wallet recently touched.
type OtherToken struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
}

// Result is the full analysis output.
type Result struct {
	TopWallets  []ProfitEntry           `json:"top_wallets"`
	OtherTokens map[string][]OtherToken `json:"other_tokens"` // wallet -> tokens
}

// Analyzer ranks wallets from collected Transfer events.
type Analyzer struct {
	client   scan.LogClient
	registry *chains.Registry
}

// NewAnalyzer creates an analyzer. client is used only for the other-token
// expansion scans.
func NewAnalyzer(client scan.LogClient, registry *chains.Registry) *Analyzer {
	return &Analyzer{client: client, registry: registry}
}

// Analyze folds the token's Transfer events into per-(wallet, chain) flow,
// ranks by profit descending, keeps the top 5 and expands each winner into
// the other tokens it traded in the last day.
func (a *Analyzer) Analyze(ctx context.Context, tokenAddress string, events []collector.TransactionEvent) Result {
	tokenAddress = strings.ToLower(tokenAddress)

	type flowKey struct {
		wallet  string
		chainID int64
	}
	flows := make(map[flowKey]*ProfitEntry)

	entry := func(wallet string, chainID int64) *ProfitEntry {
		k := flowKey{wallet: wallet, chainID: chainID}
		e, ok := flows[k]
		if !ok {
			name := ""
			if c, found := a.registry.ByID(chainID); found {
				name = c.Name
			}
			e = &ProfitEntry{
				Address:     wallet,
				TotalBought: decimal.Zero,
				TotalSold:   decimal.Zero,
				Profit:      decimal.Zero,
				Chain:       name,
			}
			flows[k] = e
		}
		return e
	}

	for _, ev := range events {
		if ev.Type != collector.EventTransfer {
			continue
		}
		// Receiver bought the quantity, sender sold it.
		if ev.To != "" {
			e := entry(ev.To, ev.ChainID)
			e.TotalBought = e.TotalBought.Add(ev.Value)
		}
		if ev.From != "" {
			e := entry(ev.From, ev.ChainID)
			e.TotalSold = e.TotalSold.Add(ev.Value)
		}
	}

	ranked := make([]ProfitEntry, 0, len(flows))
	for _, e := range flows {
		e.Profit = e.TotalSold.Sub(e.TotalBought)
		ranked = append(ranked, *e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].Profit.Equal(ranked[j].Profit) {
			return ranked[i].Profit.GreaterThan(ranked[j].Profit)
		}
		return ranked[i].Address < ranked[j].Address
	})
	if len(ranked) > topWallets {
		ranked = ranked[:topWallets]
	}

	result := Result{
		TopWallets:  ranked,
		OtherTokens: make(map[string][]OtherToken, len(ranked)),
	}
	for _, w := range ranked {
		result.OtherTokens[w.Address] = a.otherTokens(ctx, w.Address, tokenAddress)
	}

	log.Info().
		Str("token", tokenAddress).
		Int("wallets", len(flows)).
		Int("top", len(ranked)).
		Msg("wallets: analysis complete")

	return result
}

// otherTokens runs a short-window global Transfer scan per chain with the
// wallet as sender or receiver and collects distinct token contracts.
func (a *Analyzer) otherTokens(ctx context.Context, wallet, excludeToken string) []OtherToken {
	topic := padTopicAddress(wallet)
	seen := make(map[OtherToken]struct{})
	var out []OtherToken

	for _, chain := range a.registry.All() {
		head, err := a.client.LatestBlock(ctx, chain.ID)
		if err != nil {
			log.Warn().Err(err).Str("chain", chain.Name).Msg("wallets: head lookup failed")
			continue
		}
		span := uint64(float64(otherTokenWindow*24*3600) / chain.BlockTimeSecs)
		var from uint64
		if span < head {
			from = head - span
		}

		for _, q := range []scan.LogQuery{
			{ChainID: chain.ID, FromBlock: from, ToBlock: head, Topic0: scan.TopicTransfer, Topic1: topic, Limit: expansionPageSize},
			{ChainID: chain.ID, FromBlock: from, ToBlock: head, Topic0: scan.TopicTransfer, Topic2: topic, Limit: expansionPageSize},
		} {
			logs, err := a.client.GetLogs(ctx, q)
			if err != nil {
				log.Warn().Err(err).Str("chain", chain.Name).Str("wallet", wallet).
					Msg("wallets: expansion scan failed")
				continue
			}
			for _, l := range logs {
				if l.Address == "" || l.Address == excludeToken {
					continue
				}
				key := OtherToken{Address: l.Address, Chain: chain.Name}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, key)
				if len(out) >= maxOtherTokens {
					return out
				}
			}
		}
	}
	return out
}

// padTopicAddress left-pads a 20-byte address into a 32-byte topic value.
func padTopicAddress(addr string) string {
	h := strings.TrimPrefix(strings.ToLower(addr), "0x")
	return "0x000000000000000000000000" + h
}
