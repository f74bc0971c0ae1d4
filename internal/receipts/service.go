package receipts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Service implements receipt business logic.
type Service struct {
	store Store
}

// NewService creates a new receipt service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Record persists a receipt. Nil-safe: returns nil if the service is nil.
func (s *Service) Record(ctx context.Context, r *Receipt) error {
	if s == nil || r == nil {
		return nil
	}
	r.TxHash = strings.ToLower(r.TxHash)
	r.From = strings.ToLower(r.From)
	r.To = strings.ToLower(r.To)
	r.ContractAddress = strings.ToLower(r.ContractAddress)
	if r.Logs == nil {
		r.Logs = []Log{}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.store.Create(ctx, r); err != nil {
		return fmt.Errorf("receipts: store %s: %w", r.TxHash, err)
	}
	return nil
}

// Get returns a receipt by transaction hash.
func (s *Service) Get(ctx context.Context, txHash string) (*Receipt, error) {
	return s.store.Get(ctx, strings.ToLower(txHash))
}

// ListByAccount returns receipts touching addr.
func (s *Service) ListByAccount(ctx context.Context, addr string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, strings.ToLower(addr), limit)
}
