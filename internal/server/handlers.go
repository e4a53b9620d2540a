package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pulsehound/pulsehound/internal/batch"
	"github.com/pulsehound/pulsehound/internal/cache"
	"github.com/pulsehound/pulsehound/internal/discovery"
	"github.com/pulsehound/pulsehound/internal/metadata"
	"github.com/pulsehound/pulsehound/internal/scoring"
)

// Background pass defaults. Each trigger route has its own window, cap and
// concurrency.
const (
	dbinitDays        = 30
	dbinitMaxTokens   = 5000
	dbinitConcurrency = 20

	refreshDays        = 2
	refreshMaxTokens   = 1000
	refreshConcurrency = 15

	rescoreConcurrency = 10

	addNewDays        = 1
	addNewMaxTokens   = 500
	addNewConcurrency = 10

	defaultTrendingLimit = 100
	defaultLookbackDays  = 7
)

// jobRequest is the shared body shape for the background trigger routes.
// Every field is optional.
type jobRequest struct {
	Days        int    `json:"days"`
	MaxTokens   int    `json:"maxTokens"`
	Concurrency int    `json:"concurrency"`
	Endpoint    string `json:"endpoint"`
}

func jsonError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindJob decodes an optional JSON body. An absent body yields zero values;
// a present but malformed one is a client error.
func bindJob(c *gin.Context) (jobRequest, error) {
	var req jobRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			return jobRequest{}, err
		}
	}
	return req, nil
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// ---------------------------------------------------------------------------
// Synchronous routes
// ---------------------------------------------------------------------------

func (s *Server) handleTokenAddresses(c *gin.Context) {
	req, err := bindJob(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, err)
		return
	}
	days := queryInt(c, "days", 0)
	if days == 0 {
		days = req.Days
	}
	if days <= 0 {
		days = addNewDays
	}
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		endpoint = req.Endpoint
	}

	agg := s.aggregatorFor(endpoint)
	tokens := agg.Discover(c.Request.Context(), days, float64(days*24))

	c.JSON(http.StatusOK, gin.H{
		"count":  len(tokens),
		"days":   days,
		"tokens": tokens,
	})
}

func (s *Server) handleTokenMetadata(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	data, err := s.meta.TokenData(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			jsonError(c, http.StatusNotFound, err)
			return
		}
		jsonError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleTransactions(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))
	days := queryInt(c, "days", defaultLookbackDays)

	events, stats, err := s.collector.Collect(c.Request.Context(), address, days)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"count":   len(events),
		"stats":   stats,
		"events":  events,
	})
}

// ---------------------------------------------------------------------------
// Background trigger routes. Each responds 200 immediately; outcomes are
// observable afterwards via logs, /stats and /trending-tokens.
// ---------------------------------------------------------------------------

func (s *Server) handleDBInit(c *gin.Context) {
	req, err := bindJob(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, err)
		return
	}
	days := req.Days
	if days <= 0 {
		days = dbinitDays
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = dbinitMaxTokens
	}

	go s.runDiscoveryPass("dbinit", req.Endpoint, days, maxTokens, batch.Options{
		Concurrency:  dbinitConcurrency,
		ForceUpdate:  false,
		LookbackDays: days,
	}, false)

	c.JSON(http.StatusOK, gin.H{
		"status":     "started",
		"days":       days,
		"max_tokens": maxTokens,
	})
}

func (s *Server) handleRefreshTokens(c *gin.Context) {
	req, err := bindJob(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, err)
		return
	}
	days := req.Days
	if days <= 0 {
		days = refreshDays
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = refreshMaxTokens
	}

	go s.runDiscoveryPass("refresh-tokens", req.Endpoint, days, maxTokens, batch.Options{
		Concurrency:  refreshConcurrency,
		ForceUpdate:  true,
		LookbackDays: days,
	}, false)

	c.JSON(http.StatusOK, gin.H{
		"status":     "started",
		"days":       days,
		"max_tokens": maxTokens,
	})
}

func (s *Server) handleUpdateAllScores(c *gin.Context) {
	req, err := bindJob(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, err)
		return
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = rescoreConcurrency
	}

	go func() {
		ctx := context.Background()
		records, err := s.loadRecords(ctx, "")
		if err != nil {
			log.Error().Err(err).Msg("server: update-all-scores list failed")
			return
		}
		report := s.runner.Run(ctx, tokensFromRecords(records), batch.Options{
			Concurrency:  concurrency,
			ForceUpdate:  true,
			LookbackDays: defaultLookbackDays,
		})
		logReport("update-all-scores", report)
	}()

	c.JSON(http.StatusOK, gin.H{
		"status":      "started",
		"concurrency": concurrency,
	})
}

func (s *Server) handleAddNewTokens(c *gin.Context) {
	req, err := bindJob(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, err)
		return
	}
	days := req.Days
	if days <= 0 {
		days = addNewDays
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = addNewMaxTokens
	}

	go s.runDiscoveryPass("add-new-tokens", req.Endpoint, days, maxTokens, batch.Options{
		Concurrency:  addNewConcurrency,
		ForceUpdate:  false,
		LookbackDays: days,
	}, true)

	c.JSON(http.StatusOK, gin.H{
		"status":         "started",
		"days":           days,
		"max_new_tokens": maxTokens,
	})
}

// runDiscoveryPass discovers, optionally drops already-cached addresses,
// caps the list and hands it to the batch runner.
func (s *Server) runDiscoveryPass(name, endpoint string, days, maxTokens int, opts batch.Options, skipCached bool) {
	ctx := context.Background()
	started := time.Now()

	agg := s.aggregatorFor(endpoint)
	tokens := agg.Discover(ctx, days, float64(days*24))

	if skipCached {
		fresh := tokens[:0]
		for _, tok := range tokens {
			ok, err := s.store.Exists(ctx, tok.Address)
			if err != nil || !ok {
				fresh = append(fresh, tok)
			}
		}
		tokens = fresh
	}
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}

	log.Info().
		Str("pass", name).
		Int("tokens", len(tokens)).
		Int("days", days).
		Msg("server: background pass discovered")

	report := s.runner.Run(ctx, tokens, opts)
	log.Info().
		Str("pass", name).
		Dur("discovery_and_batch", time.Since(started)).
		Msg("server: background pass finished")
	logReport(name, report)
}

func logReport(pass string, report batch.Report) {
	log.Info().
		Str("pass", pass).
		Str("run_id", report.RunID).
		Int64("processed", report.Processed).
		Int64("updated", report.Updated).
		Int64("skipped", report.Skipped).
		Int64("no_data", report.NoData).
		Int64("failed", report.Failed).
		Msg("server: batch report")
}

// ---------------------------------------------------------------------------
// Read routes over the cache
// ---------------------------------------------------------------------------

func (s *Server) handleTrendingTokens(c *gin.Context) {
	limit := queryInt(c, "limit", defaultTrendingLimit)
	chainFilter := strings.ToLower(c.Query("chain"))

	records, err := s.loadRecords(c.Request.Context(), chainFilter)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, err)
		return
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].TrendingScore != records[j].TrendingScore {
			return records[i].TrendingScore > records[j].TrendingScore
		}
		return records[i].Address < records[j].Address
	})
	if len(records) > limit {
		records = records[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(records),
		"tokens": records,
	})
}

func (s *Server) handleDebugAnalyze(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))
	ctx := c.Request.Context()

	events, stats, err := s.collector.Collect(ctx, address, defaultLookbackDays)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, err)
		return
	}
	if len(events) == 0 {
		jsonError(c, http.StatusNotFound, errors.New("no transaction data for token"))
		return
	}

	acc := scoring.NewAccumulator()
	acc.AddTransactions(events, stats)

	data, err := s.meta.TokenData(ctx, address)
	switch {
	case err == nil:
		acc.AddTokenData(*data)
	case errors.Is(err, metadata.ErrNotFound):
		// Scored on transaction signals alone.
	default:
		jsonError(c, http.StatusInternalServerError, err)
		return
	}

	metrics := acc.Analyze()
	c.JSON(http.StatusOK, gin.H{
		"address":  address,
		"score":    metrics.TrendingScore,
		"metrics":  metrics,
		"stats":    stats,
		"metadata": data,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	records, err := s.loadRecords(c.Request.Context(), "")
	if err != nil {
		jsonError(c, http.StatusInternalServerError, err)
		return
	}

	type chainStats struct {
		Count    int     `json:"count"`
		AvgScore float64 `json:"avg_score"`
	}
	perChain := make(map[string]*chainStats)
	totalScore := 0
	for _, rec := range records {
		cs, ok := perChain[rec.ChainName]
		if !ok {
			cs = &chainStats{}
			perChain[rec.ChainName] = cs
		}
		cs.Count++
		cs.AvgScore += float64(rec.TrendingScore)
		totalScore += rec.TrendingScore
	}
	for _, cs := range perChain {
		cs.AvgScore /= float64(cs.Count)
	}

	avg := 0.0
	if len(records) > 0 {
		avg = float64(totalScore) / float64(len(records))
	}

	c.JSON(http.StatusOK, gin.H{
		"total_tokens": len(records),
		"avg_score":    avg,
		"chains":       perChain,
	})
}

func (s *Server) handleAnalyzeWallets(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))
	ctx := c.Request.Context()
	days := queryInt(c, "days", defaultLookbackDays)

	events, _, err := s.collector.Collect(ctx, address, days)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, err)
		return
	}
	if len(events) == 0 {
		jsonError(c, http.StatusNotFound, errors.New("no transaction data for token"))
		return
	}

	result := s.analyzer.Analyze(ctx, address, events)
	c.JSON(http.StatusOK, gin.H{
		"address":      address,
		"top_wallets":  result.TopWallets,
		"other_tokens": result.OtherTokens,
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		jsonError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// loadRecords fetches every cached record, optionally filtered to one chain
// name. Records deleted between ListKeys and Get are skipped.
func (s *Server) loadRecords(ctx context.Context, chainFilter string) ([]*cache.CachedTokenRecord, error) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*cache.CachedTokenRecord, 0, len(keys))
	for _, address := range keys {
		rec, err := s.store.Get(ctx, address)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if chainFilter != "" && strings.ToLower(rec.ChainName) != chainFilter {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// tokensFromRecords rebuilds batch input from cached records so a rescore
// pass keeps each token's chain identity.
func tokensFromRecords(records []*cache.CachedTokenRecord) []discovery.Token {
	tokens := make([]discovery.Token, 0, len(records))
	for _, rec := range records {
		tokens = append(tokens, discovery.Token{
			Address:            rec.Address,
			ChainID:            rec.ChainID,
			ChainName:          rec.ChainName,
			FirstSeenBlock:     rec.Block,
			FirstSeenTimestamp: rec.Timestamp,
			AgeHours:           rec.AgeHours,
		})
	}
	return tokens
}
