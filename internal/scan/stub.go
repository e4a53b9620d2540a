package scan

import (
	"context"
	"sync"
)

// ---------------------------------------------------------------------------
// Stub log client (for testing and development)
// ---------------------------------------------------------------------------

// StubClient is a canned LogClient for tests. Queries are served from
// registered logs filtered by chain, address, topics and block range.
type StubClient struct {
	mu       sync.RWMutex
	logs     map[int64][]RawLog // chainID -> records in insertion order
	heads    map[int64]uint64
	failNext error

	CallCount int
	Queries   []LogQuery
}

// NewStubClient creates an empty stub.
func NewStubClient() *StubClient {
	return &StubClient{
		logs:  make(map[int64][]RawLog),
		heads: make(map[int64]uint64),
	}
}

// AddLogs registers records for a chain.
func (s *StubClient) AddLogs(chainID int64, logs ...RawLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range logs {
		logs[i].ChainID = chainID
	}
	s.logs[chainID] = append(s.logs[chainID], logs...)
}

// SetHead sets the head block for a chain.
func (s *StubClient) SetHead(chainID int64, head uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[chainID] = head
}

// FailNext makes the next call return err.
func (s *StubClient) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// GetLogs implements LogClient.
func (s *StubClient) GetLogs(_ context.Context, q LogQuery) ([]RawLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Queries = append(s.Queries, q)

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}

	var out []RawLog
	for _, l := range s.logs[q.ChainID] {
		if q.FromBlock > 0 && l.BlockNumber < q.FromBlock {
			continue
		}
		if q.ToBlock > 0 && l.BlockNumber > q.ToBlock {
			continue
		}
		if q.Address != "" && l.Address != q.Address {
			continue
		}
		if q.Topic0 != "" && l.Topic0() != q.Topic0 {
			continue
		}
		if q.Topic1 != "" && (len(l.Topics) < 2 || l.Topics[1] != q.Topic1) {
			continue
		}
		if q.Topic2 != "" && (len(l.Topics) < 3 || l.Topics[2] != q.Topic2) {
			continue
		}
		out = append(out, l)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// LatestBlock implements LogClient.
func (s *StubClient) LatestBlock(_ context.Context, chainID int64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return 0, err
	}
	if head, ok := s.heads[chainID]; ok {
		return head, nil
	}

	// Fall back to the highest registered block.
	var head uint64
	for _, l := range s.logs[chainID] {
		if l.BlockNumber > head {
			head = l.BlockNumber
		}
	}
	return head, nil
}
