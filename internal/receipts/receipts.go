// Package receipts records the outcome of every mined transaction.
//
// A receipt is written after the state changeset commits, so a receipt
// always describes state that is visible through the chain.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
)

// StatusSuccess is the only status a stored receipt can carry; failed calls
// are rolled back and never mined.
const StatusSuccess uint64 = 1

// Receipt describes a mined transaction. Addresses and hashes are lowercase
// 0x-prefixed hex; amounts are decimal wei strings.
type Receipt struct {
	TxHash            string    `json:"txHash"`
	BlockNumber       uint64    `json:"blockNumber"`
	From              string    `json:"from"`
	To                string    `json:"to,omitempty"`
	ContractAddress   string    `json:"contractAddress,omitempty"`
	Method            string    `json:"method,omitempty"`
	Value             string    `json:"value"`
	GasUsed           uint64    `json:"gasUsed"`
	EffectiveGasPrice string    `json:"effectiveGasPrice"`
	Fee               string    `json:"fee"`
	Status            uint64    `json:"status"`
	Logs              []Log     `json:"logs"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Log is a contract event emitted during the transaction.
type Log struct {
	Address string            `json:"address"`
	Event   string            `json:"event,omitempty"`
	Topics  []string          `json:"topics"`
	Data    string            `json:"data"`
	Args    map[string]string `json:"args,omitempty"`
}

// Store persists receipts.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, txHash string) (*Receipt, error)
	// ListByAccount returns receipts where addr is the sender, the
	// recipient or the created contract, newest first.
	ListByAccount(ctx context.Context, addr string, limit int) ([]*Receipt, error)
}
