package scan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// tailServer upgrades one connection, consumes the subscribe request and
// pushes the given frames, then holds the connection open until the
// client disconnects.
func tailServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		assert.Equal(t, "eth_subscribe", sub.Method)

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func tailConfig(srv *httptest.Server) LiveTailConfig {
	return LiveTailConfig{
		Enabled:          true,
		WSEndpoint:       wsEndpoint(srv),
		ReconnectDelayMs: 10,
		PingIntervalS:    1,
	}
}

func transferFrame(address string) string {
	return `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0x1",` +
		`"result":{"address":"` + address + `","topics":["` + TopicTransfer + `","0x0","0x1"],` +
		`"data":"0x64","blockNumber":"0x64","transactionHash":"0xfeed"}}}`
}

func requireTailClosed(t *testing.T, ch <-chan RawLog, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("tail channel did not close")
		}
	}
}

func TestLiveTail_DeliversPushedLogs(t *testing.T) {
	srv := tailServer(t, transferFrame("0xAbCd000000000000000000000000000000000001"))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tail := NewLiveTail(tailConfig(srv), 1)
	ch := tail.Start(ctx)

	select {
	case rl := <-ch:
		assert.Equal(t, int64(1), rl.ChainID)
		assert.Equal(t, "0xabcd000000000000000000000000000000000001", rl.Address)
		assert.Equal(t, uint64(100), rl.BlockNumber)
		assert.Equal(t, "0xfeed", rl.TxHash)
		require.NotEmpty(t, rl.Topics)
		assert.Equal(t, TopicTransfer, rl.Topic0())
	case <-time.After(2 * time.Second):
		t.Fatal("no log delivered")
	}
	assert.Equal(t, int64(1), tail.Stats().LogsEmitted)
}

func TestLiveTail_ChannelClosesOnCancel(t *testing.T) {
	srv := tailServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tail := NewLiveTail(tailConfig(srv), 1)
	ch := tail.Start(ctx)

	// Let the subscription come up before pulling the plug.
	time.Sleep(50 * time.Millisecond)
	cancel()

	requireTailClosed(t, ch, 2*time.Second)
}

func TestLiveTail_SkipsUnparseableFrames(t *testing.T) {
	srv := tailServer(t,
		"not json at all",
		`{"params":{"result":{"address":"","topics":[]}}}`,
		transferFrame("0xbbbb000000000000000000000000000000000002"),
	)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tail := NewLiveTail(tailConfig(srv), 1)
	ch := tail.Start(ctx)

	select {
	case rl := <-ch:
		assert.Equal(t, "0xbbbb000000000000000000000000000000000002", rl.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("no log delivered")
	}

	stats := tail.Stats()
	assert.GreaterOrEqual(t, stats.MessagesRecv, int64(3))
	assert.Equal(t, int64(1), stats.LogsEmitted)
}
