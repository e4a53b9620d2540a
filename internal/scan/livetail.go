package scan

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Live tail — optional websocket subscription for freshly mined logs.
// Complements the paginated puller: the puller covers history, the tail
// covers the head of the chain between refresh passes.
// ---------------------------------------------------------------------------

// LiveTailConfig configures the websocket log tail.
type LiveTailConfig struct {
	Enabled          bool   `yaml:"enabled"`
	WSEndpoint       string `yaml:"ws_endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
}

// DefaultLiveTailConfig returns the tail defaults (disabled).
func DefaultLiveTailConfig() LiveTailConfig {
	return LiveTailConfig{
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
	}
}

// LiveTail streams Transfer logs from a chain's websocket endpoint.
type LiveTail struct {
	config  LiveTailConfig
	chainID int64

	out    chan RawLog
	closed atomic.Bool

	messagesRecv atomic.Int64
	logsEmitted  atomic.Int64
	reconnects   atomic.Int64
}

// NewLiveTail creates a tail for one chain.
func NewLiveTail(config LiveTailConfig, chainID int64) *LiveTail {
	return &LiveTail{
		config:  config,
		chainID: chainID,
		out:     make(chan RawLog, 1024),
	}
}

// Start connects and begins streaming. The returned channel closes when the
// context is cancelled.
func (t *LiveTail) Start(ctx context.Context) <-chan RawLog {
	go t.runLoop(ctx)
	return t.out
}

func (t *LiveTail) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tail: run loop panic recovered")
		}
		if t.closed.CompareAndSwap(false, true) {
			close(t.out)
		}
	}()

	delay := time.Duration(t.config.ReconnectDelayMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := t.runOnce(ctx); err != nil && ctx.Err() == nil {
			t.reconnects.Add(1)
			log.Warn().Err(err).Int64("chain", t.chainID).Msg("tail: connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// subscribeMsg is the eth_subscribe request for Transfer logs.
type subscribeMsg struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// tailNotification is the subscription push envelope.
type tailNotification struct {
	Params struct {
		Result struct {
			Address     string   `json:"address"`
			Topics      []string `json:"topics"`
			Data        string   `json:"data"`
			BlockNumber string   `json:"blockNumber"`
			TxHash      string   `json:"transactionHash"`
		} `json:"result"`
	} `json:"params"`
}

func (t *LiveTail) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.config.WSEndpoint, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := subscribeMsg{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"logs", map[string]any{"topics": []string{TopicTransfer}}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	log.Info().Int64("chain", t.chainID).Str("endpoint", t.config.WSEndpoint).Msg("tail: subscription active")

	// Keepalive pings. Cancellation closes the connection so a blocked
	// read returns right away instead of waiting out its deadline.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		interval := time.Duration(t.config.PingIntervalS) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Duration(t.config.PingIntervalS) * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		t.messagesRecv.Add(1)

		var note tailNotification
		if err := json.Unmarshal(msg, &note); err != nil {
			continue
		}
		r := note.Params.Result
		if r.Address == "" || len(r.Topics) == 0 {
			continue
		}

		rl := RawLog{
			ChainID:     t.chainID,
			Address:     strings.ToLower(r.Address),
			Topics:      r.Topics,
			Data:        r.Data,
			BlockNumber: parseHexUint(r.BlockNumber),
			Timestamp:   time.Now().Unix(),
			TxHash:      r.TxHash,
		}

		select {
		case t.out <- rl:
			t.logsEmitted.Add(1)
		case <-ctx.Done():
			return nil
		default:
			// Consumer is behind; drop rather than block the read loop.
		}
	}
}

// TailStats is a counters snapshot.
type TailStats struct {
	MessagesRecv int64 `json:"messages_recv"`
	LogsEmitted  int64 `json:"logs_emitted"`
	Reconnects   int64 `json:"reconnects"`
}

func (t *LiveTail) Stats() TailStats {
	return TailStats{
		MessagesRecv: t.messagesRecv.Load(),
		LogsEmitted:  t.logsEmitted.Load(),
		Reconnects:   t.reconnects.Load(),
	}
}
