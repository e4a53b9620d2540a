package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Token metadata collaborator — market data lookups for one token
// ---------------------------------------------------------------------------

// ErrUpstream marks a metadata collaborator failure.
var ErrUpstream = errors.New("metadata upstream error")

// ErrNotFound marks a token the collaborator has never indexed. Distinct
// from a failure: the token is simply unscoreable this pass.
var ErrNotFound = errors.New("token metadata not found")

// TokenData is the market-side view of a token. Every field has an explicit
// zero default; the struct is never passed around as an open-ended map.
type TokenData struct {
	Address        string  `json:"address"`
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	PriceUSD       float64 `json:"price_usd"`
	MarketCapUSD   float64 `json:"market_cap_usd"`
	LiquidityUSD   float64 `json:"liquidity_usd"`
	Volume24hUSD   float64 `json:"volume_24h_usd"`
	PriceChange24h float64 `json:"price_change_24h"` // percent, may be < -100 on bad feeds
	Holders        int     `json:"holders"`
}

// Client fetches token metadata.
// Implementations: HTTPClient (live), StubClient (testing).
type Client interface {
	TokenData(ctx context.Context, address string) (*TokenData, error)
}

// HTTPClient queries a dexscreener-style pairs API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

const defaultBaseURL = "https://api.dexscreener.com/latest/dex/tokens"

// NewHTTPClient creates a live metadata client. baseURL may be empty.
func NewHTTPClient(baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

// pairsResponse is the collaborator's reply; the best-liquidity pair wins.
type pairsResponse struct {
	Pairs []struct {
		BaseToken struct {
			Address string `json:"address"`
			Name    string `json:"name"`
			Symbol  string `json:"symbol"`
		} `json:"baseToken"`
		PriceUSD  string `json:"priceUsd"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		FDV    float64 `json:"fdv"`
		Volume struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
		PriceChange struct {
			H24 float64 `json:"h24"`
		} `json:"priceChange"`
	} `json:"pairs"`
}

// TokenData implements Client.
func (c *HTTPClient) TokenData(ctx context.Context, address string) (*TokenData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	var pr pairsResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	if len(pr.Pairs) == 0 {
		return nil, ErrNotFound
	}

	best := pr.Pairs[0]
	for _, p := range pr.Pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}

	var price float64
	if _, err := fmt.Sscanf(best.PriceUSD, "%f", &price); err != nil {
		price = 0
	}

	td := &TokenData{
		Address:        address,
		Name:           best.BaseToken.Name,
		Symbol:         best.BaseToken.Symbol,
		PriceUSD:       price,
		MarketCapUSD:   best.FDV,
		LiquidityUSD:   best.Liquidity.USD,
		Volume24hUSD:   best.Volume.H24,
		PriceChange24h: best.PriceChange.H24,
	}

	log.Debug().Str("token", address).Str("symbol", td.Symbol).Msg("metadata: fetched")
	return td, nil
}

// ---------------------------------------------------------------------------
// Stub client (for testing)
// ---------------------------------------------------------------------------

// StubClient serves canned metadata for tests.
type StubClient struct {
	mu       sync.RWMutex
	tokens   map[string]*TokenData
	failNext error

	CallCount int
}

// NewStubClient creates an empty stub.
func NewStubClient() *StubClient {
	return &StubClient{tokens: make(map[string]*TokenData)}
}

// AddToken registers metadata for an address.
func (s *StubClient) AddToken(td TokenData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[td.Address] = &td
}

// FailNext makes the next call return err.
func (s *StubClient) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// TokenData implements Client.
func (s *StubClient) TokenData(_ context.Context, address string) (*TokenData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}

	td, ok := s.tokens[address]
	if !ok {
		return nil, ErrNotFound
	}
	out := *td
	return &out, nil
}
