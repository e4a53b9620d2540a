package scoring

import (
	"testing"

	"github.com/pulsehound/pulsehound/internal/collector"
	"github.com/pulsehound/pulsehound/internal/metadata"
	"github.com/stretchr/testify/assert"
)

func TestCompositeScore_ReferenceVector(t *testing.T) {
	// round(80*0.25 + 50*0.20 + 60*0.15 + 30*0.10 + min(2,100)*0.10 + 10/2)
	// = round(20 + 10 + 9 + 3 + 0.2 + 5) = round(47.2) = 47
	m := TokenMetrics{
		ActivityScore:        80,
		LiquidityHealthScore: 50,
		DistributionScore:    60,
		MomentumScore:        30,
		BuyVsSellRatio:       2,
		PriceChange24h:       10,
	}
	assert.Equal(t, 47, CompositeScore(m))
}

func TestCompositeScore_AlwaysBounded(t *testing.T) {
	cases := []struct {
		name string
		m    TokenMetrics
	}{
		{"all max with pump", TokenMetrics{ActivityScore: 100, LiquidityHealthScore: 100, DistributionScore: 100, MomentumScore: 100, BuyVsSellRatio: 1e9, PriceChange24h: 100_000}},
		{"all zero with crash", TokenMetrics{PriceChange24h: -100_000}},
		{"crash floored at -100", TokenMetrics{ActivityScore: 100, LiquidityHealthScore: 100, PriceChange24h: -500}},
		{"empty", TokenMetrics{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := CompositeScore(tc.m)
			assert.GreaterOrEqual(t, score, 0)
			assert.LessOrEqual(t, score, 100)
		})
	}
}

func TestCompositeScore_PriceCrashFloor(t *testing.T) {
	// The price term is floored at -100 so it can drag at most -50.
	base := TokenMetrics{ActivityScore: 100, LiquidityHealthScore: 100, DistributionScore: 100, MomentumScore: 100, BuyVsSellRatio: 100}
	withFloor := base
	withFloor.PriceChange24h = -100
	deeper := base
	deeper.PriceChange24h = -5000

	assert.Equal(t, CompositeScore(withFloor), CompositeScore(deeper))
}

func TestCompositeScore_RatioCappedBeforeWeighting(t *testing.T) {
	capped := TokenMetrics{BuyVsSellRatio: 100}
	beyond := TokenMetrics{BuyVsSellRatio: 100_000}
	assert.Equal(t, CompositeScore(capped), CompositeScore(beyond))
}

func transferEvents(n int) []collector.TransactionEvent {
	out := make([]collector.TransactionEvent, n)
	for i := range out {
		out[i] = collector.TransactionEvent{Type: collector.EventTransfer}
	}
	return out
}

func TestAccumulator_BuySellCounting(t *testing.T) {
	acc := NewAccumulator()
	events := append(transferEvents(6),
		collector.TransactionEvent{Type: collector.EventApproval},
		collector.TransactionEvent{Type: collector.EventApproval},
		collector.TransactionEvent{Type: collector.EventApproval},
	)
	acc.AddTransactions(events, collector.TransactionStats{TotalCount: 9})

	m := acc.Analyze()
	assert.InDelta(t, 2.0, m.BuyVsSellRatio, 0.001)
}

func TestAccumulator_NoSellEvidence(t *testing.T) {
	acc := NewAccumulator()
	acc.AddTransactions(transferEvents(5), collector.TransactionStats{TotalCount: 5})

	m := acc.Analyze()
	assert.InDelta(t, 5.0, m.BuyVsSellRatio, 0.001)
}

func TestAccumulator_NotIdempotent(t *testing.T) {
	events := transferEvents(4)
	stats := collector.TransactionStats{TotalCount: 4, TransferCount: 4, RatePerHour: 4}

	once := NewAccumulator()
	once.AddTransactions(events, stats)

	twice := NewAccumulator()
	twice.AddTransactions(events, stats)
	twice.AddTransactions(events, stats)

	assert.Greater(t, twice.Analyze().ActivityScore, once.Analyze().ActivityScore,
		"double feeding must double count")
}

func TestAccumulator_EmptyInputsScoreZero(t *testing.T) {
	m := NewAccumulator().Analyze()
	assert.Equal(t, 0, m.TrendingScore)
	assert.Zero(t, m.ActivityScore)
	assert.Zero(t, m.DistributionScore)
}

func TestAccumulator_LiquidityHealth(t *testing.T) {
	t.Run("healthy ratio saturates", func(t *testing.T) {
		acc := NewAccumulator()
		acc.AddTokenData(metadata.TokenData{LiquidityUSD: 200_000, MarketCapUSD: 1_000_000})
		assert.Equal(t, 100.0, acc.Analyze().LiquidityHealthScore)
	})

	t.Run("thin liquidity scores low", func(t *testing.T) {
		acc := NewAccumulator()
		acc.AddTokenData(metadata.TokenData{LiquidityUSD: 10_000, MarketCapUSD: 1_000_000})
		assert.InDelta(t, 5.0, acc.Analyze().LiquidityHealthScore, 0.001)
	})

	t.Run("no mcap falls back to depth", func(t *testing.T) {
		acc := NewAccumulator()
		acc.AddTokenData(metadata.TokenData{LiquidityUSD: 50_000})
		assert.InDelta(t, 50.0, acc.Analyze().LiquidityHealthScore, 0.001)
	})
}

func TestAccumulator_Distribution(t *testing.T) {
	acc := NewAccumulator()
	// 20 events touching 40 distinct addresses = maximal spread.
	acc.AddTransactions(nil, collector.TransactionStats{TotalCount: 20, UniqueAddressCount: 40})
	assert.Equal(t, 100.0, acc.Analyze().DistributionScore)

	tight := NewAccumulator()
	// 20 events between 2 addresses = heavy concentration.
	tight.AddTransactions(nil, collector.TransactionStats{TotalCount: 20, UniqueAddressCount: 2})
	assert.InDelta(t, 5.0, tight.Analyze().DistributionScore, 0.001)
}
