package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/pulsehound/pulsehound/internal/scoring"
)

// ---------------------------------------------------------------------------
// Token Cache — keyed store of the latest scored record per token address
// ---------------------------------------------------------------------------

// ErrCache marks a store-level failure (unreachable, protocol error).
var ErrCache = errors.New("cache error")

// ErrNotFound marks a missing key.
var ErrNotFound = errors.New("record not found")

// KeyPrefix namespaces token records inside the store.
const KeyPrefix = "token:"

// CachedTokenRecord is the persisted value for one token. Overwritten
// wholesale on every successful scoring pass, never partially updated.
//
// The key is the address alone: the same address deployed on two chains
// will overwrite each other's record. Kept as-is on purpose; see DESIGN.md.
type CachedTokenRecord struct {
	Address       string               `json:"address"`
	ChainID       int64                `json:"chain_id"`
	ChainName     string               `json:"chain_name"`
	TrendingScore int                  `json:"trending_score"`
	Block         uint64               `json:"block"`
	Timestamp     int64                `json:"timestamp"`
	AgeHours      float64              `json:"age_hours"`
	LastUpdated   int64                `json:"last_updated"`
	Metrics       scoring.TokenMetrics `json:"metrics"`
}

// Store is the keyed token cache. Writes are independent per key with
// last-writer-wins semantics; there is no cross-key transaction and no
// compare-and-swap.
type Store interface {
	// Get fetches the record for an address. Returns ErrNotFound when absent.
	Get(ctx context.Context, address string) (*CachedTokenRecord, error)

	// Set overwrites the record for an address.
	Set(ctx context.Context, record *CachedTokenRecord) error

	// Exists reports whether a record is present without decoding it.
	Exists(ctx context.Context, address string) (bool, error)

	// ListKeys returns every cached token address.
	ListKeys(ctx context.Context) ([]string, error)

	// Ping verifies the store connection.
	Ping(ctx context.Context) error

	// Close releases the store connection.
	Close() error
}

// Key builds the store key for a token address.
func Key(address string) string {
	return KeyPrefix + strings.ToLower(address)
}

// AddressFromKey strips the namespace prefix.
func AddressFromKey(key string) string {
	return strings.TrimPrefix(key, KeyPrefix)
}
