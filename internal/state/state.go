// Package state persists the world state of the execution host: accounts,
// contract storage slots and the chain head.
//
// Every backend applies a ChangeSet atomically, so a transaction is either
// fully visible or not at all.
package state

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrClosed      = errors.New("state: store closed")
	ErrCorruptData = errors.New("state: corrupt record")
)

// Account is the host-level record for an address. Code is the registered
// code ID of a native contract, empty for externally owned accounts.
type Account struct {
	Nonce   uint64       `json:"nonce"`
	Balance *uint256.Int `json:"balance"`
	Code    string       `json:"code,omitempty"`
}

// NewAccount returns an empty account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int)}
}

// Copy returns a deep copy.
func (a *Account) Copy() *Account {
	cp := &Account{Nonce: a.Nonce, Code: a.Code, Balance: new(uint256.Int)}
	if a.Balance != nil {
		cp.Balance.Set(a.Balance)
	}
	return cp
}

// IsContract reports whether native code is bound to the account.
func (a *Account) IsContract() bool {
	return a.Code != ""
}

// ChangeSet is the dirty state produced by one transaction. Zero-valued
// storage words are deletions.
type ChangeSet struct {
	Accounts map[common.Address]*Account
	Storage  map[common.Address]map[common.Hash]common.Hash
	Head     *uint64
}

// NewChangeSet creates an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		Accounts: make(map[common.Address]*Account),
		Storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// SetStorage records a storage write.
func (cs *ChangeSet) SetStorage(addr common.Address, slot, value common.Hash) {
	slots, ok := cs.Storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		cs.Storage[addr] = slots
	}
	slots[slot] = value
}

// Empty reports whether the change set carries no writes.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Accounts) == 0 && len(cs.Storage) == 0 && cs.Head == nil
}

// Store persists world state.
type Store interface {
	// Account returns the account at addr, or a fresh empty account if none
	// has been written.
	Account(ctx context.Context, addr common.Address) (*Account, error)
	Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	// Head returns the latest block number; ok is false before genesis.
	Head(ctx context.Context) (head uint64, ok bool, err error)
	Commit(ctx context.Context, cs *ChangeSet) error
	Ping(ctx context.Context) error
	Close() error
}
