package collector

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/pulsehound/pulsehound/internal/chains"
	"github.com/pulsehound/pulsehound/internal/scan"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Transaction Collector — per-token Transfer/Approval history across chains
// ---------------------------------------------------------------------------

// EventType classifies a token event.
type EventType string

const (
	EventTransfer EventType = "Transfer"
	EventApproval EventType = "Approval"
)

// TransactionEvent is one decoded token event. Read-only downstream.
type TransactionEvent struct {
	ChainID     int64           `json:"chain_id"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   int64           `json:"timestamp"`
	TxHash      string          `json:"tx_hash"`
	TxIndex     uint            `json:"tx_index"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Type        EventType       `json:"type"`
	Value       decimal.Decimal `json:"value"`
	GasUsed     uint64          `json:"gas_used"`
	GasPrice    decimal.Decimal `json:"gas_price"`
}

// TransactionStats is derived per collection pass and never persisted on
// its own.
type TransactionStats struct {
	TotalCount         int     `json:"total_count"`
	TransferCount      int     `json:"transfer_count"`
	ApprovalCount      int     `json:"approval_count"`
	UniqueAddressCount int     `json:"unique_address_count"`
	FirstTimestamp     int64   `json:"first_timestamp"`
	LastTimestamp      int64   `json:"last_timestamp"`
	RatePerHour        float64 `json:"rate_per_hour"`
}

// Collector pulls one token's event history from every configured chain.
type Collector struct {
	client   scan.LogClient
	registry *chains.Registry
	pageSize int
}

// NewCollector creates a collector. pageSize bounds each upstream query.
func NewCollector(client scan.LogClient, registry *chains.Registry, pageSize int) *Collector {
	if pageSize <= 0 {
		pageSize = 10_000
	}
	return &Collector{client: client, registry: registry, pageSize: pageSize}
}

// Collect queries Transfer and Approval logs for the token on every chain
// in parallel, concatenates per-chain results (order preserved within a
// chain) and derives stats. Each event kind is capped at pageSize records
// per chain, oldest first, so stats over a very active token describe a
// bounded sample of its window. An empty event set with a nil error means
// "no data"; upstream failures are returned as errors.
func (c *Collector) Collect(ctx context.Context, address string, lookbackDays int) ([]TransactionEvent, TransactionStats, error) {
	address = strings.ToLower(address)
	all := c.registry.All()

	// Each goroutine writes only its own slot; the merge below is
	// single-threaded.
	perChain := make([][]TransactionEvent, len(all))
	errs := make([]error, len(all))

	var wg sync.WaitGroup
	for i, chain := range all {
		i, chain := i, chain
		wg.Add(1)
		go func() {
			defer wg.Done()
			perChain[i], errs[i] = c.collectChain(ctx, chain, address, lookbackDays)
		}()
	}
	wg.Wait()

	var events []TransactionEvent
	var firstErr error
	okChains := 0
	for i, chainEvents := range perChain {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			log.Warn().Err(errs[i]).Str("chain", all[i].Name).Str("token", address).
				Msg("collector: chain query failed")
			continue
		}
		okChains++
		events = append(events, chainEvents...)
	}

	// All chains failing is an upstream failure; partial coverage is data.
	if okChains == 0 && firstErr != nil {
		return nil, TransactionStats{}, firstErr
	}

	return events, computeStats(events), nil
}

// collectChain pulls both event kinds for one chain.
func (c *Collector) collectChain(ctx context.Context, chain chains.Chain, address string, lookbackDays int) ([]TransactionEvent, error) {
	head, err := c.client.LatestBlock(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	var from uint64
	if lookbackDays > 0 {
		span := uint64(float64(lookbackDays*24*3600) / chain.BlockTimeSecs)
		if span < head {
			from = head - span
		}
	}

	var events []TransactionEvent
	for _, topic := range []string{scan.TopicTransfer, scan.TopicApproval} {
		// One bounded query per event kind; a history longer than
		// pageSize is truncated at the upstream, not paginated.
		logs, err := c.client.GetLogs(ctx, scan.LogQuery{
			ChainID:   chain.ID,
			FromBlock: from,
			ToBlock:   head,
			Address:   address,
			Topic0:    topic,
			Limit:     c.pageSize,
		})
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			ev, ok := decodeEvent(l)
			if !ok {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

// decodeEvent converts a raw log into a TransactionEvent. Records without
// the expected indexed topics are dropped.
func decodeEvent(l scan.RawLog) (TransactionEvent, bool) {
	var kind EventType
	switch l.Topic0() {
	case scan.TopicTransfer:
		kind = EventTransfer
	case scan.TopicApproval:
		kind = EventApproval
	default:
		return TransactionEvent{}, false
	}
	if len(l.Topics) < 3 {
		return TransactionEvent{}, false
	}

	return TransactionEvent{
		ChainID:     l.ChainID,
		BlockNumber: l.BlockNumber,
		Timestamp:   l.Timestamp,
		TxHash:      l.TxHash,
		TxIndex:     l.TxIndex,
		From:        topicAddress(l.Topics[1]),
		To:          topicAddress(l.Topics[2]),
		Type:        kind,
		Value:       decodeValue(l.Data),
		GasUsed:     l.GasUsed,
		GasPrice:    l.GasPrice,
	}, true
}

// topicAddress extracts the 20-byte address from a 32-byte indexed topic.
func topicAddress(topic string) string {
	t := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(t) < 40 {
		return "0x" + t
	}
	return "0x" + t[len(t)-40:]
}

// decodeValue parses the unindexed uint256 amount from the data field.
func decodeValue(data string) decimal.Decimal {
	h := strings.TrimPrefix(strings.ToLower(data), "0x")
	if h == "" {
		return decimal.Zero
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

// computeStats derives TransactionStats from a collected event set.
func computeStats(events []TransactionEvent) TransactionStats {
	stats := TransactionStats{TotalCount: len(events)}
	if len(events) == 0 {
		return stats
	}

	unique := make(map[string]struct{})
	stats.FirstTimestamp = events[0].Timestamp
	stats.LastTimestamp = events[0].Timestamp

	for _, ev := range events {
		switch ev.Type {
		case EventTransfer:
			stats.TransferCount++
		case EventApproval:
			stats.ApprovalCount++
		}
		unique[ev.From] = struct{}{}
		unique[ev.To] = struct{}{}
		if ev.Timestamp < stats.FirstTimestamp {
			stats.FirstTimestamp = ev.Timestamp
		}
		if ev.Timestamp > stats.LastTimestamp {
			stats.LastTimestamp = ev.Timestamp
		}
	}
	stats.UniqueAddressCount = len(unique)

	spanHours := float64(stats.LastTimestamp-stats.FirstTimestamp) / 3600
	if spanHours < 1 {
		spanHours = 1
	}
	stats.RatePerHour = float64(stats.TotalCount) / spanHours

	return stats
}
