package scoring

import (
	"math"

	"github.com/pulsehound/pulsehound/internal/collector"
	"github.com/pulsehound/pulsehound/internal/metadata"
)

// ---------------------------------------------------------------------------
// Scoring Accumulator — folds one token's history + metadata into a bounded
// trending score. Weights: activity 0.25, liquidity 0.20, distribution 0.15,
// momentum 0.10, buy/sell 0.10, plus the half-weighted price change term.
// ---------------------------------------------------------------------------

// TokenMetrics are the sub-scores behind one composite trending score.
type TokenMetrics struct {
	ActivityScore        float64 `json:"activity_score"`         // 0-100
	LiquidityHealthScore float64 `json:"liquidity_health_score"` // 0-100
	MomentumScore        float64 `json:"momentum_score"`         // 0-100
	DistributionScore    float64 `json:"distribution_score"`     // 0-100
	BuyVsSellRatio       float64 `json:"buy_vs_sell_ratio"`      // >= 0, unbounded
	PriceChange24h       float64 `json:"price_change_24h"`       // percent
	TrendingScore        int     `json:"trending_score"`         // 0-100
}

// Accumulator computes one token's metrics. Single use: AddTransactions and
// AddTokenData mutate internal counters and are not idempotent — feeding
// either twice double-counts. Build a fresh instance per scoring pass and
// do not share it across goroutines.
type Accumulator struct {
	stats        collector.TransactionStats
	buyCount     int
	sellCount    int
	data         metadata.TokenData
	hasTokenData bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// AddTransactions folds a collected event set into the accumulator.
func (a *Accumulator) AddTransactions(events []collector.TransactionEvent, stats collector.TransactionStats) {
	a.stats.TotalCount += stats.TotalCount
	a.stats.TransferCount += stats.TransferCount
	a.stats.ApprovalCount += stats.ApprovalCount
	a.stats.UniqueAddressCount += stats.UniqueAddressCount
	a.stats.RatePerHour += stats.RatePerHour
	if a.stats.FirstTimestamp == 0 || (stats.FirstTimestamp > 0 && stats.FirstTimestamp < a.stats.FirstTimestamp) {
		a.stats.FirstTimestamp = stats.FirstTimestamp
	}
	if stats.LastTimestamp > a.stats.LastTimestamp {
		a.stats.LastTimestamp = stats.LastTimestamp
	}

	// A transfer is surface evidence of a buy; an approval precedes a
	// router-mediated sell. Quantity semantics live in the wallet analyzer,
	// not here.
	for _, ev := range events {
		switch ev.Type {
		case collector.EventTransfer:
			a.buyCount++
		case collector.EventApproval:
			a.sellCount++
		}
	}
}

// AddTokenData folds collaborator metadata into the accumulator.
func (a *Accumulator) AddTokenData(data metadata.TokenData) {
	a.data = data
	a.hasTokenData = true
}

// Analyze derives the sub-scores and the composite trending score.
func (a *Accumulator) Analyze() TokenMetrics {
	m := TokenMetrics{
		ActivityScore:        a.activityScore(),
		LiquidityHealthScore: a.liquidityHealthScore(),
		MomentumScore:        a.momentumScore(),
		DistributionScore:    a.distributionScore(),
		BuyVsSellRatio:       a.buyVsSellRatio(),
		PriceChange24h:       a.data.PriceChange24h,
	}
	m.TrendingScore = CompositeScore(m)
	return m
}

// CompositeScore combines the sub-scores. The clamp order is part of the
// downstream contract: the ratio is capped at 100 before weighting, the
// price change is floored at -100 and halved unweighted, and the sum is
// clamped to [0,100] before rounding.
func CompositeScore(m TokenMetrics) int {
	raw := m.ActivityScore*0.25 +
		m.LiquidityHealthScore*0.20 +
		m.DistributionScore*0.15 +
		m.MomentumScore*0.10 +
		math.Min(m.BuyVsSellRatio, 100)*0.10 +
		math.Max(m.PriceChange24h, -100)/2

	return int(math.Round(clamp(raw, 0, 100)))
}

// activityScore maps transaction frequency to 0-100.
func (a *Accumulator) activityScore() float64 {
	if a.stats.TotalCount == 0 {
		return 0
	}
	// 50 events/hour saturates the signal.
	score := a.stats.RatePerHour * 2
	return clamp(score, 0, 100)
}

// liquidityHealthScore maps liquidity depth relative to market cap to 0-100.
func (a *Accumulator) liquidityHealthScore() float64 {
	if !a.hasTokenData || a.data.LiquidityUSD <= 0 {
		return 0
	}
	if a.data.MarketCapUSD <= 0 {
		// No market cap reading: score on absolute depth, $100k saturates.
		return clamp(a.data.LiquidityUSD/1000, 0, 100)
	}
	// 20% liquidity-to-mcap is full health.
	ratio := a.data.LiquidityUSD / a.data.MarketCapUSD
	return clamp(ratio*500, 0, 100)
}

// momentumScore maps recent price and volume trend to 0-100.
func (a *Accumulator) momentumScore() float64 {
	if !a.hasTokenData {
		return 0
	}
	score := 0.0

	// Price leg: +50% in 24h saturates half the signal.
	if a.data.PriceChange24h > 0 {
		score += math.Min(a.data.PriceChange24h, 50)
	}

	// Volume leg: daily volume at 100% of market cap saturates the rest.
	if a.data.MarketCapUSD > 0 && a.data.Volume24hUSD > 0 {
		turnover := a.data.Volume24hUSD / a.data.MarketCapUSD
		score += math.Min(turnover*50, 50)
	}

	return clamp(score, 0, 100)
}

// distributionScore maps holder spread to 0-100: many unique addresses per
// event means wide distribution, few means concentration.
func (a *Accumulator) distributionScore() float64 {
	if a.stats.TotalCount == 0 {
		return 0
	}
	spread := float64(a.stats.UniqueAddressCount) / float64(a.stats.TotalCount*2)
	return clamp(spread*100, 0, 100)
}

// buyVsSellRatio derives the counted buy/sell ratio. With no sell evidence
// the ratio equals the buy count.
func (a *Accumulator) buyVsSellRatio() float64 {
	if a.buyCount == 0 {
		return 0
	}
	sells := a.sellCount
	if sells == 0 {
		sells = 1
	}
	return float64(a.buyCount) / float64(sells)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
