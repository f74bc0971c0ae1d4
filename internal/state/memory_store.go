package state

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory state store for demo/development mode.
type MemoryStore struct {
	accounts map[common.Address]*Account
	storage  map[common.Address]map[common.Hash]common.Hash
	head     uint64
	hasHead  bool
	closed   bool
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[common.Address]*Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (m *MemoryStore) Account(_ context.Context, addr common.Address) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	acc, ok := m.accounts[addr]
	if !ok {
		return NewAccount(), nil
	}
	return acc.Copy(), nil
}

func (m *MemoryStore) Storage(_ context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return common.Hash{}, ErrClosed
	}
	return m.storage[addr][slot], nil
}

func (m *MemoryStore) Head(_ context.Context) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, false, ErrClosed
	}
	return m.head, m.hasHead, nil
}

func (m *MemoryStore) Commit(_ context.Context, cs *ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for addr, acc := range cs.Accounts {
		m.accounts[addr] = acc.Copy()
	}
	for addr, slots := range cs.Storage {
		dst, ok := m.storage[addr]
		if !ok {
			dst = make(map[common.Hash]common.Hash)
			m.storage[addr] = dst
		}
		for slot, value := range slots {
			if value == (common.Hash{}) {
				delete(dst, slot)
				continue
			}
			dst[slot] = value
		}
	}
	if cs.Head != nil {
		m.head = *cs.Head
		m.hasHead = true
	}
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
