package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Head returns the latest mined block number.
func (c *Chain) Head(ctx context.Context) (uint64, error) {
	head, ok, err := c.store.Head(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoGenesis
	}
	return head, nil
}

func (c *Chain) BalanceAt(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	acc, err := c.store.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

func (c *Chain) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	acc, err := c.store.Account(ctx, addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// CodeAt returns the code ID bound to addr, empty for plain accounts.
func (c *Chain) CodeAt(ctx context.Context, addr common.Address) (string, error) {
	acc, err := c.store.Account(ctx, addr)
	if err != nil {
		return "", err
	}
	return acc.Code, nil
}

func (c *Chain) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	return c.store.Storage(ctx, addr, slot)
}

// ContractAt returns the contract bound to addr.
func (c *Chain) ContractAt(ctx context.Context, addr common.Address) (Contract, error) {
	id, err := c.CodeAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCode, addr.Hex())
	}
	return c.registry.Lookup(id)
}

// TargetAt follows a forwarding contract at addr to the account whose code
// serves its calls. Non-forwarding contracts resolve to themselves.
func (c *Chain) TargetAt(ctx context.Context, addr common.Address) (common.Address, Contract, error) {
	code, err := c.ContractAt(ctx, addr)
	if err != nil {
		return common.Address{}, nil, err
	}
	fw, ok := code.(Forwarder)
	if !ok {
		return addr, code, nil
	}
	target, err := fw.Target(ctx, c.store, addr)
	if err != nil {
		return common.Address{}, nil, err
	}
	impl, err := c.ContractAt(ctx, target)
	if err != nil {
		return common.Address{}, nil, err
	}
	return target, impl, nil
}

// ABIAt returns the ABI callers reach at addr.
func (c *Chain) ABIAt(ctx context.Context, addr common.Address) (*abi.ABI, error) {
	_, code, err := c.TargetAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	return code.ABI(), nil
}

// State returns a reader over committed storage.
func (c *Chain) State() StorageReader {
	return c.store
}
