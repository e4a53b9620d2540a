package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pulsehound/pulsehound/internal/batch"
	"github.com/pulsehound/pulsehound/internal/cache"
	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/pulsehound/pulsehound/internal/collector"
	"github.com/pulsehound/pulsehound/internal/discovery"
	"github.com/pulsehound/pulsehound/internal/metadata"
	"github.com/pulsehound/pulsehound/internal/scan"
	"github.com/pulsehound/pulsehound/internal/wallets"
)

// ---------------------------------------------------------------------------
// HTTP surface
// ---------------------------------------------------------------------------

// Config holds the HTTP listener settings.
type Config struct {
	Port          int
	ReadTimeoutS  int
	WriteTimeoutS int
}

// Deps are the collaborators the handlers dispatch into.
type Deps struct {
	Registry   *chains.Registry
	LogClient  scan.LogClient
	ScanConfig scan.ScannerConfig
	ScanToken  string
	Metadata   metadata.Client
	Store      cache.Store
	Collector  *collector.Collector
	Runner     *batch.Runner
	Analyzer   *wallets.Analyzer
}

// Server exposes the discovery, scoring and cache pipeline over HTTP.
type Server struct {
	config     Config
	registry   *chains.Registry
	scanConfig scan.ScannerConfig
	scanToken  string
	aggregator *discovery.Aggregator
	collector  *collector.Collector
	meta       metadata.Client
	store      cache.Store
	runner     *batch.Runner
	analyzer   *wallets.Analyzer

	httpServer *http.Server
}

// NewServer wires the route handlers onto their collaborators.
func NewServer(config Config, deps Deps) *Server {
	scanner := scan.NewScanner(deps.ScanConfig, deps.LogClient)
	return &Server{
		config:     config,
		registry:   deps.Registry,
		scanConfig: deps.ScanConfig,
		scanToken:  deps.ScanToken,
		aggregator: discovery.NewAggregator(scanner, deps.Registry),
		collector:  deps.Collector,
		meta:       deps.Metadata,
		store:      deps.Store,
		runner:     deps.Runner,
		analyzer:   deps.Analyzer,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	router.GET("/token-addresses", s.handleTokenAddresses)
	router.POST("/token-addresses", s.handleTokenAddresses)
	router.GET("/token-metadata/:address", s.handleTokenMetadata)
	router.POST("/token-metadata/:address", s.handleTokenMetadata)
	router.GET("/transactions/:address", s.handleTransactions)
	router.POST("/transactions/:address", s.handleTransactions)

	router.POST("/dbinit", s.handleDBInit)
	router.POST("/refresh-tokens", s.handleRefreshTokens)
	router.POST("/update-all-scores", s.handleUpdateAllScores)
	router.POST("/add-new-tokens", s.handleAddNewTokens)

	router.GET("/trending-tokens", s.handleTrendingTokens)
	router.GET("/debug/analyze/:address", s.handleDebugAnalyze)
	router.GET("/stats", s.handleStats)
	router.GET("/analyze-wallets/:address", s.handleAnalyzeWallets)
	router.GET("/healthz", s.handleHealthz)

	return router
}

// Run serves until the context is cancelled, then drains with a 5s grace
// period.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.config.ReadTimeoutS) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeoutS) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.config.Port).Msg("server: listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// aggregatorFor returns the default aggregator, or one targeting an
// alternate scan endpoint when the caller supplied one.
func (s *Server) aggregatorFor(endpoint string) *discovery.Aggregator {
	if endpoint == "" {
		return s.aggregator
	}

	override := s.registry.All()
	for i := range override {
		override[i].ScanEndpoint = endpoint
	}
	registry, err := chains.NewRegistry(override)
	if err != nil {
		log.Warn().Err(err).Msg("server: endpoint override rejected, using defaults")
		return s.aggregator
	}

	client := scan.NewHTTPClient(registry, s.scanToken)
	return discovery.NewAggregator(scan.NewScanner(s.scanConfig, client), registry)
}
