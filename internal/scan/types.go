package scan

import "github.com/shopspring/decimal"

// ---------------------------------------------------------------------------
// Raw chain log types shared by the scanner, collector and discovery layers
// ---------------------------------------------------------------------------

// Standard ERC-20 event signatures (keccak256 of the event declaration).
const (
	TopicTransfer = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	TopicApproval = "0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925"
)

// RawLog is one event record as returned by the scanning collaborator.
type RawLog struct {
	ChainID     int64           `json:"chain_id"`
	Address     string          `json:"address"`
	Topics      []string        `json:"topics"`
	Data        string          `json:"data"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   int64           `json:"timestamp"` // unix seconds
	TxHash      string          `json:"tx_hash"`
	TxIndex     uint            `json:"tx_index"`
	GasUsed     uint64          `json:"gas_used"`
	GasPrice    decimal.Decimal `json:"gas_price"`
}

// Topic0 returns the event signature topic, or "" when absent.
func (l RawLog) Topic0() string {
	if len(l.Topics) == 0 {
		return ""
	}
	return l.Topics[0]
}

// LogQuery is a bounded log request against one chain.
type LogQuery struct {
	ChainID   int64
	FromBlock uint64
	ToBlock   uint64 // 0 = latest
	Address   string // optional contract filter
	Topic0    string // optional event signature filter
	Topic1    string // optional indexed arg filter (e.g. transfer sender)
	Topic2    string // optional indexed arg filter (e.g. transfer receiver)
	Limit     int    // per-request record ceiling
}
