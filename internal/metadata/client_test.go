package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x000000000000000000000000000000000000beef"

func TestHTTPClient_BestLiquidityPairWins(t *testing.T) {
	body := `{"pairs": [
		{"baseToken": {"address": "` + testAddress + `", "name": "Thin", "symbol": "THIN"},
		 "priceUsd": "0.5", "liquidity": {"usd": 1000}, "fdv": 10000,
		 "volume": {"h24": 500}, "priceChange": {"h24": -2}},
		{"baseToken": {"address": "` + testAddress + `", "name": "Deep", "symbol": "DEEP"},
		 "priceUsd": "1.25", "liquidity": {"usd": 90000}, "fdv": 400000,
		 "volume": {"h24": 120000}, "priceChange": {"h24": 14.5}}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, testAddress)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	td, err := client.TokenData(context.Background(), testAddress)
	require.NoError(t, err)

	assert.Equal(t, "DEEP", td.Symbol)
	assert.Equal(t, 1.25, td.PriceUSD)
	assert.Equal(t, 90000.0, td.LiquidityUSD)
	assert.Equal(t, 400000.0, td.MarketCapUSD)
	assert.Equal(t, 14.5, td.PriceChange24h)
}

func TestHTTPClient_EmptyPairsIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": []}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.TokenData(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient_NotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.TokenData(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient_UpstreamStatusIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.TokenData(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestStubClient(t *testing.T) {
	stub := NewStubClient()
	stub.AddToken(TokenData{Address: testAddress, Symbol: "BEEF"})

	td, err := stub.TokenData(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "BEEF", td.Symbol)

	_, err = stub.TokenData(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("boom")
	stub.FailNext(boom)
	_, err = stub.TokenData(context.Background(), testAddress)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 3, stub.CallCount)
}
