package receipts

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory receipt store for demo/development mode.
type MemoryStore struct {
	receipts map[string]*Receipt
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory receipt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]*Receipt),
	}
}

func (m *MemoryStore) Create(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[r.TxHash] = copyReceipt(r)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, txHash string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return copyReceipt(r), nil
}

func (m *MemoryStore) ListByAccount(_ context.Context, addr string, limit int) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr = strings.ToLower(addr)
	var result []*Receipt
	for _, r := range m.receipts {
		if r.From == addr || r.To == addr || r.ContractAddress == addr {
			result = append(result, copyReceipt(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BlockNumber > result[j].BlockNumber
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyReceipt(r *Receipt) *Receipt {
	cp := *r
	cp.Logs = make([]Log, len(r.Logs))
	for i, l := range r.Logs {
		lc := l
		lc.Topics = append([]string(nil), l.Topics...)
		if l.Args != nil {
			lc.Args = make(map[string]string, len(l.Args))
			for k, v := range l.Args {
				lc.Args[k] = v
			}
		}
		cp.Logs[i] = lc
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
