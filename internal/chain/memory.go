package chain

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Ledger for tests and for running the API without a
// chain gateway configured.
type Memory struct {
	mu     sync.Mutex
	counts map[string]map[int]int64
	seq    int

	failNext bool
}

var _ Ledger = (*Memory)(nil)

// NewMemory creates an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]map[int]int64)}
}

func (m *Memory) SubmitTransaction(ctx context.Context, sessionRef string, payload TxPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return "", fmt.Errorf("%w: injected failure", ErrLedger)
	}
	m.seq++
	return fmt.Sprintf("0xmem%06d", m.seq), nil
}

func (m *Memory) ReadVoteCount(ctx context.Context, sessionRef string, candidateIndex int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return 0, fmt.Errorf("%w: injected failure", ErrLedger)
	}
	return m.counts[sessionRef][candidateIndex], nil
}

// SetVoteCount fixes the mirrored counter for a candidate index.
func (m *Memory) SetVoteCount(sessionRef string, candidateIndex int, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[sessionRef] == nil {
		m.counts[sessionRef] = make(map[int]int64)
	}
	m.counts[sessionRef][candidateIndex] = count
}

// FailNext makes the next call return a wrapped ErrLedger.
func (m *Memory) FailNext() {
	m.mu.Lock()
	m.failNext = true
	m.mu.Unlock()
}
