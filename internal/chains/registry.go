package chains

import "fmt"

// ---------------------------------------------------------------------------
// Chain Registry — static table of supported EVM chains
// ---------------------------------------------------------------------------

// Chain describes one supported EVM-compatible ledger.
type Chain struct {
	ID            int64   `yaml:"id" json:"id"`
	Name          string  `yaml:"name" json:"name"`
	BlockTimeSecs float64 `yaml:"block_time_secs" json:"block_time_secs"`
	ScanEndpoint  string  `yaml:"scan_endpoint" json:"scan_endpoint"`
	RPCFallback   string  `yaml:"rpc_fallback" json:"rpc_fallback,omitempty"`
}

// Registry holds the configured chain set. It is immutable after construction.
type Registry struct {
	chains []Chain
	byID   map[int64]Chain
}

// DefaultChains returns the built-in chain table.
func DefaultChains() []Chain {
	return []Chain{
		{ID: 1, Name: "ethereum", BlockTimeSecs: 12, ScanEndpoint: "https://api.etherscan.io/v2/api"},
		{ID: 56, Name: "bsc", BlockTimeSecs: 3, ScanEndpoint: "https://api.bscscan.com/api"},
		{ID: 137, Name: "polygon", BlockTimeSecs: 2.1, ScanEndpoint: "https://api.polygonscan.com/api"},
		{ID: 8453, Name: "base", BlockTimeSecs: 2, ScanEndpoint: "https://api.basescan.org/api"},
		{ID: 42161, Name: "arbitrum", BlockTimeSecs: 0.25, ScanEndpoint: "https://api.arbiscan.io/api"},
	}
}

// NewRegistry builds a registry from the given chain list. An empty list
// falls back to the built-in table.
func NewRegistry(chains []Chain) (*Registry, error) {
	if len(chains) == 0 {
		chains = DefaultChains()
	}

	byID := make(map[int64]Chain, len(chains))
	for _, c := range chains {
		if c.ID == 0 {
			return nil, fmt.Errorf("chain %q has no id", c.Name)
		}
		if c.BlockTimeSecs <= 0 {
			return nil, fmt.Errorf("chain %q has invalid block time %v", c.Name, c.BlockTimeSecs)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chain id %d", c.ID)
		}
		byID[c.ID] = c
	}

	return &Registry{chains: chains, byID: byID}, nil
}

// ByID looks up a chain by its numeric id.
func (r *Registry) ByID(id int64) (Chain, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// ByName looks up a chain by its human name.
func (r *Registry) ByName(name string) (Chain, bool) {
	for _, c := range r.chains {
		if c.Name == name {
			return c, true
		}
	}
	return Chain{}, false
}

// All returns the full chain table in configuration order.
func (r *Registry) All() []Chain {
	out := make([]Chain, len(r.chains))
	copy(out, r.chains)
	return out
}

// Len returns the number of configured chains.
func (r *Registry) Len() int {
	return len(r.chains)
}
