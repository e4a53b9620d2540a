package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pulsehound/pulsehound/internal/batch"
	"github.com/pulsehound/pulsehound/internal/cache"
	"github.com/pulsehound/pulsehound/internal/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDiscoverer struct {
	mu     sync.Mutex
	tokens []discovery.Token
	calls  int
}

func (s *stubDiscoverer) Discover(_ context.Context, _ int, _ float64) []discovery.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.tokens
}

type stubRunner struct {
	mu   sync.Mutex
	runs []struct {
		tokens []discovery.Token
		opts   batch.Options
	}
}

func (s *stubRunner) Run(_ context.Context, tokens []discovery.Token, opts batch.Options) batch.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, struct {
		tokens []discovery.Token
		opts   batch.Options
	}{tokens, opts})
	return batch.Report{Processed: int64(len(tokens)), Updated: int64(len(tokens))}
}

func (s *stubRunner) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func TestScheduler_NewTokenPhaseSkipsCachedAddresses(t *testing.T) {
	store := cache.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), &cache.CachedTokenRecord{Address: "0xcached"}))

	disc := &stubDiscoverer{tokens: []discovery.Token{
		{Address: "0xcached"},
		{Address: "0xfresh"},
	}}
	runner := &stubRunner{}

	s := NewScheduler(DefaultConfig(), disc, runner, store)
	s.runNewTokenPhase(context.Background())

	require.Equal(t, 1, runner.runCount())
	run := runner.runs[0]
	require.Len(t, run.tokens, 1)
	assert.Equal(t, "0xfresh", run.tokens[0].Address)
	assert.False(t, run.opts.ForceUpdate)
}

func TestScheduler_NewTokenPhaseHonorsCap(t *testing.T) {
	store := cache.NewMemoryStore()
	disc := &stubDiscoverer{tokens: []discovery.Token{
		{Address: "0xa"}, {Address: "0xb"}, {Address: "0xc"},
	}}
	runner := &stubRunner{}

	cfg := DefaultConfig()
	cfg.MaxNewTokens = 2
	s := NewScheduler(cfg, disc, runner, store)
	s.runNewTokenPhase(context.Background())

	require.Equal(t, 1, runner.runCount())
	assert.Len(t, runner.runs[0].tokens, 2)
}

func TestScheduler_RescorePhaseForcesEveryCachedToken(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, &cache.CachedTokenRecord{Address: "0xa", ChainID: 1, ChainName: "ethereum"}))
	require.NoError(t, store.Set(ctx, &cache.CachedTokenRecord{Address: "0xb", ChainID: 56, ChainName: "bsc"}))

	runner := &stubRunner{}
	s := NewScheduler(DefaultConfig(), &stubDiscoverer{}, runner, store)
	s.runRescorePhase(ctx)

	require.Equal(t, 1, runner.runCount())
	run := runner.runs[0]
	assert.Len(t, run.tokens, 2)
	assert.True(t, run.opts.ForceUpdate)

	// Chain identity rides along from the cached record.
	byAddr := map[string]discovery.Token{}
	for _, tok := range run.tokens {
		byAddr[tok.Address] = tok
	}
	assert.Equal(t, "bsc", byAddr["0xb"].ChainName)
}

func TestScheduler_RunOnceRunsBothPhases(t *testing.T) {
	store := cache.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), &cache.CachedTokenRecord{Address: "0xcached"}))

	disc := &stubDiscoverer{tokens: []discovery.Token{{Address: "0xfresh"}}}
	runner := &stubRunner{}

	s := NewScheduler(DefaultConfig(), disc, runner, store)
	s.RunOnce(context.Background())

	require.Equal(t, 2, runner.runCount())
	assert.False(t, runner.runs[0].opts.ForceUpdate, "phase 1 must not force")
	assert.True(t, runner.runs[1].opts.ForceUpdate, "phase 2 must force")
}

func TestScheduler_StatsCountFirings(t *testing.T) {
	store := cache.NewMemoryStore()
	s := NewScheduler(DefaultConfig(), &stubDiscoverer{}, &stubRunner{}, store)

	assert.Equal(t, int64(0), s.Stats().Firings)
	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	assert.Equal(t, int64(2), s.Stats().Firings)
}

func TestScheduler_StartFiresOnInterval(t *testing.T) {
	store := cache.NewMemoryStore()
	disc := &stubDiscoverer{}
	runner := &stubRunner{}

	cfg := DefaultConfig()
	cfg.Interval = 20 * time.Millisecond
	s := NewScheduler(cfg, disc, runner, store)

	s.Start(context.Background())
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	disc.mu.Lock()
	calls := disc.calls
	disc.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2, "expected at least two firings")
	assert.GreaterOrEqual(t, s.Stats().Firings, int64(2))
}

func TestScheduler_StopPreventsFurtherFirings(t *testing.T) {
	store := cache.NewMemoryStore()
	disc := &stubDiscoverer{}
	runner := &stubRunner{}

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	s := NewScheduler(cfg, disc, runner, store)

	s.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	s.Stop()

	disc.mu.Lock()
	after := disc.calls
	disc.mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	disc.mu.Lock()
	final := disc.calls
	disc.mu.Unlock()
	assert.Equal(t, after, final, "no firings after Stop")
}
