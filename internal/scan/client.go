package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Scanning collaborator client — bounded log queries over HTTP
// ---------------------------------------------------------------------------

// ErrUpstream marks a scanning collaborator failure. The affected token or
// scan pass is not retried within the same run.
var ErrUpstream = errors.New("scan upstream error")

// LogClient is the interface to the external event-scanning collaborator.
// Implementations: HTTPClient (live), StubClient (testing).
type LogClient interface {
	// GetLogs runs one bounded log query and returns at most q.Limit records.
	GetLogs(ctx context.Context, q LogQuery) ([]RawLog, error)

	// LatestBlock returns the current head block number for a chain.
	LatestBlock(ctx context.Context, chainID int64) (uint64, error)
}

const (
	clientTimeout = 10 * time.Second
	maxRetries    = 2
	retryBackoff  = 500 * time.Millisecond
)

// HTTPClient talks to an etherscan-style log API. A bearer token raises the
// upstream rate limit; without one the client still works on public limits.
type HTTPClient struct {
	httpClient *http.Client
	registry   *chains.Registry
	token      string

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewHTTPClient creates a live scanning client. token may be empty.
func NewHTTPClient(registry *chains.Registry, token string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: clientTimeout},
		registry:   registry,
		token:      token,
	}
}

// getLogsResponse is the collaborator's envelope for log queries.
type getLogsResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// wireLog is one record on the wire; numeric fields arrive hex-encoded.
type wireLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TimeStamp        string   `json:"timeStamp"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	GasUsed          string   `json:"gasUsed"`
	GasPrice         string   `json:"gasPrice"`
}

// GetLogs implements LogClient.
func (c *HTTPClient) GetLogs(ctx context.Context, q LogQuery) ([]RawLog, error) {
	chain, ok := c.registry.ByID(q.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown chain %d", ErrUpstream, q.ChainID)
	}

	params := url.Values{}
	params.Set("module", "logs")
	params.Set("action", "getLogs")
	params.Set("fromBlock", strconv.FormatUint(q.FromBlock, 10))
	if q.ToBlock > 0 {
		params.Set("toBlock", strconv.FormatUint(q.ToBlock, 10))
	} else {
		params.Set("toBlock", "latest")
	}
	if q.Address != "" {
		params.Set("address", q.Address)
	}
	if q.Topic0 != "" {
		params.Set("topic0", q.Topic0)
	}
	if q.Topic1 != "" {
		params.Set("topic1", q.Topic1)
		params.Set("topic0_1_opr", "and")
	}
	if q.Topic2 != "" {
		params.Set("topic2", q.Topic2)
	}
	if q.Limit > 0 {
		params.Set("offset", strconv.Itoa(q.Limit))
	}

	raw, err := c.do(ctx, chain.ScanEndpoint, params)
	if err != nil {
		return nil, err
	}

	var envelope getLogsResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	// "No records found" arrives as status 0 with an empty result, which is
	// data-level emptiness rather than a failure.
	var wire []wireLog
	if err := json.Unmarshal(envelope.Result, &wire); err != nil {
		if strings.Contains(envelope.Message, "No records") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstream, envelope.Message)
	}

	logs := make([]RawLog, 0, len(wire))
	for _, w := range wire {
		logs = append(logs, RawLog{
			ChainID:     q.ChainID,
			Address:     strings.ToLower(w.Address),
			Topics:      w.Topics,
			Data:        w.Data,
			BlockNumber: parseHexUint(w.BlockNumber),
			Timestamp:   int64(parseHexUint(w.TimeStamp)),
			TxHash:      w.TransactionHash,
			TxIndex:     uint(parseHexUint(w.TransactionIndex)),
			GasUsed:     parseHexUint(w.GasUsed),
			GasPrice:    decimal.NewFromInt(int64(parseHexUint(w.GasPrice))),
		})
	}
	return logs, nil
}

// LatestBlock implements LogClient.
func (c *HTTPClient) LatestBlock(ctx context.Context, chainID int64) (uint64, error) {
	chain, ok := c.registry.ByID(chainID)
	if !ok {
		return 0, fmt.Errorf("%w: unknown chain %d", ErrUpstream, chainID)
	}

	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", "eth_blockNumber")

	raw, err := c.do(ctx, chain.ScanEndpoint, params)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("%w: decode head block: %v", ErrUpstream, err)
	}

	head := parseHexUint(resp.Result)
	if head == 0 {
		return 0, fmt.Errorf("%w: empty head block", ErrUpstream)
	}
	return head, nil
}

// do issues one GET with retries and returns the raw body.
func (c *HTTPClient) do(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUpstream, ctx.Err())
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		c.requestCount.Add(1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.errorCount.Add(1)
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("scan: request failed")
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		resp.Body.Close()
		if err != nil {
			c.errorCount.Add(1)
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			c.errorCount.Add(1)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("scan: upstream status")
			continue
		}

		return body, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstream, lastErr)
}

// ClientStats is a counters snapshot for the HTTP client.
type ClientStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

func (c *HTTPClient) Stats() ClientStats {
	return ClientStats{
		Requests: c.requestCount.Load(),
		Errors:   c.errorCount.Load(),
	}
}

// parseHexUint parses "0x..."-prefixed or plain decimal numbers, returning
// 0 on malformed input.
func parseHexUint(s string) uint64 {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0
		}
		return v
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
