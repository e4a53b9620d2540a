package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/pulsehound/pulsehound/internal/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T, stub *scan.StubClient, table []chains.Chain) *Aggregator {
	t.Helper()
	reg, err := chains.NewRegistry(table)
	require.NoError(t, err)

	scanner := scan.NewScanner(scan.ScannerConfig{PageLimit: 1000, RequestDelayMs: 0}, stub)
	agg := NewAggregator(scanner, reg)
	agg.now = func() time.Time { return time.Unix(100_000, 0) }
	return agg
}

func transferAt(addr string, block uint64, ts int64) scan.RawLog {
	return scan.RawLog{
		Address:     addr,
		Topics:      []string{scan.TopicTransfer, "0x0", "0x1"},
		BlockNumber: block,
		Timestamp:   ts,
		TxHash:      "0xtx",
	}
}

func singleChain() []chains.Chain {
	return []chains.Chain{{ID: 1, Name: "ethereum", BlockTimeSecs: 12}}
}

func TestAggregator_EarliestTimestampWins(t *testing.T) {
	stub := scan.NewStubClient()
	stub.AddLogs(1,
		transferAt("0xdead", 10, 99_100),
		transferAt("0xdead", 5, 99_080),
	)
	stub.SetHead(1, 100)

	agg := newTestAggregator(t, stub, singleChain())
	tokens := agg.Discover(context.Background(), 1, 0)

	require.Len(t, tokens, 1)
	assert.Equal(t, int64(99_080), tokens[0].FirstSeenTimestamp)
	assert.Equal(t, uint64(5), tokens[0].FirstSeenBlock)
}

func TestAggregator_SameAddressTwoChainsIsTwoTokens(t *testing.T) {
	stub := scan.NewStubClient()
	stub.AddLogs(1, transferAt("0xdead", 10, 99_000))
	stub.AddLogs(56, transferAt("0xdead", 20, 99_500))
	stub.SetHead(1, 100)
	stub.SetHead(56, 100)

	agg := newTestAggregator(t, stub, []chains.Chain{
		{ID: 1, Name: "ethereum", BlockTimeSecs: 12},
		{ID: 56, Name: "bsc", BlockTimeSecs: 3},
	})
	tokens := agg.Discover(context.Background(), 1, 0)

	require.Len(t, tokens, 2)
	ids := map[int64]bool{}
	for _, tok := range tokens {
		ids[tok.ChainID] = true
	}
	assert.True(t, ids[1])
	assert.True(t, ids[56])
}

func TestAggregator_AgeFilter(t *testing.T) {
	stub := scan.NewStubClient()
	stub.AddLogs(1,
		transferAt("0xnew", 10, 100_000-1800),  // 0.5h old
		transferAt("0xold", 5, 100_000-36_000), // 10h old
	)
	stub.SetHead(1, 100)

	agg := newTestAggregator(t, stub, singleChain())
	tokens := agg.Discover(context.Background(), 1, 1.0)

	require.Len(t, tokens, 1)
	assert.Equal(t, "0xnew", tokens[0].Address)
	assert.InDelta(t, 0.5, tokens[0].AgeHours, 0.01)
}

func TestAggregator_FailedChainIsSkipped(t *testing.T) {
	stub := scan.NewStubClient()
	stub.FailNext(scan.ErrUpstream)
	stub.AddLogs(1, transferAt("0xdead", 10, 99_000))
	stub.SetHead(1, 100)

	agg := newTestAggregator(t, stub, singleChain())

	// The single chain fails on its first call; no tokens, no panic.
	tokens := agg.Discover(context.Background(), 1, 0)
	assert.Empty(t, tokens)
}

func TestAggregator_AgeComputedFromFirstSeen(t *testing.T) {
	stub := scan.NewStubClient()
	stub.AddLogs(1,
		transferAt("0xdead", 5, 100_000-7200),
		transferAt("0xdead", 10, 100_000-60),
	)
	stub.SetHead(1, 100)

	agg := newTestAggregator(t, stub, singleChain())
	tokens := agg.Discover(context.Background(), 1, 0)

	require.Len(t, tokens, 1)
	assert.InDelta(t, 2.0, tokens[0].AgeHours, 0.01, "age derives from the earliest observation")
}
