package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

const maxCallDepth = 1024

// execution is the per-transaction context shared by all frames.
type execution struct {
	ctx      context.Context
	registry *Registry
	journal  *journal
	gas      *gasMeter
}

// frame is one call level. Under DelegateCall, self stays the caller's
// account while code switches to the implementation.
type frame struct {
	exec   *execution
	self   common.Address
	code   Contract
	caller common.Address
	value  *uint256.Int
	depth  int
}

var _ Env = (*frame)(nil)

func (f *frame) Context() context.Context { return f.exec.ctx }
func (f *frame) Self() common.Address     { return f.self }
func (f *frame) Caller() common.Address   { return f.caller }

func (f *frame) Value() *uint256.Int {
	return new(uint256.Int).Set(f.value)
}

func (f *frame) SLoad(slot common.Hash) (common.Hash, error) {
	_, cur, cold, err := f.exec.journal.slot(f.self, slot)
	if err != nil {
		return common.Hash{}, err
	}
	cost := params.WarmStorageReadCostEIP2929
	if cold {
		cost = params.ColdSloadCostEIP2929
	}
	if err := f.exec.gas.consume(cost); err != nil {
		return common.Hash{}, err
	}
	return cur, nil
}

func (f *frame) SStore(slot, value common.Hash) error {
	orig, cur, cold, err := f.exec.journal.slot(f.self, slot)
	if err != nil {
		return err
	}
	cost := sstoreGas(orig, cur, value)
	if cold {
		cost += params.ColdSloadCostEIP2929
	}
	if err := f.exec.gas.consume(cost); err != nil {
		return err
	}
	f.exec.journal.setSlot(f.self, slot, value)
	return nil
}

func (f *frame) accessAccount(addr common.Address) error {
	cost := params.WarmStorageReadCostEIP2929
	if !f.exec.journal.warmAccount(addr) {
		cost = params.ColdAccountAccessCostEIP2929
	}
	return f.exec.gas.consume(cost)
}

func (f *frame) Balance(addr common.Address) (*uint256.Int, error) {
	if err := f.accessAccount(addr); err != nil {
		return nil, err
	}
	acc, err := f.exec.journal.account(addr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(acc.Balance), nil
}

func (f *frame) HasCode(addr common.Address) (bool, error) {
	if err := f.accessAccount(addr); err != nil {
		return false, err
	}
	acc, err := f.exec.journal.account(addr)
	if err != nil {
		return false, err
	}
	return acc.IsContract(), nil
}

func (f *frame) Transfer(addr common.Address, amount *uint256.Int) error {
	if err := f.accessAccount(addr); err != nil {
		return err
	}
	if err := f.exec.gas.consume(params.CallValueTransferGas); err != nil {
		return err
	}
	return f.exec.journal.move(f.self, addr, amount)
}

func (f *frame) Emit(event string, args ...interface{}) error {
	l, err := f.exec.journal.addLog(f.self, f.code.ABI(), event, args)
	if err != nil {
		return err
	}
	return f.exec.gas.consume(logGas(len(l.Topics)-1, len(l.Data)))
}

func (f *frame) Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	if err := f.accessAccount(to); err != nil {
		return nil, err
	}
	cost := params.CallGasEIP150
	if !value.IsZero() {
		cost += params.CallValueTransferGas
	}
	if err := f.exec.gas.consume(cost); err != nil {
		return nil, err
	}
	if err := f.exec.journal.move(f.self, to, value); err != nil {
		return nil, err
	}

	code, err := f.exec.codeAt(to)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, nil
	}
	child, err := f.child(to, code, f.self, value)
	if err != nil {
		return nil, err
	}
	return Dispatch(child, code, input)
}

func (f *frame) DelegateCall(impl common.Address, input []byte) ([]byte, error) {
	if err := f.accessAccount(impl); err != nil {
		return nil, err
	}
	if err := f.exec.gas.consume(params.CallGasEIP150); err != nil {
		return nil, err
	}
	code, err := f.exec.codeAt(impl)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, fmt.Errorf("%w: delegatecall to %s", ErrNoCode, impl.Hex())
	}
	child, err := f.child(f.self, code, f.caller, f.value)
	if err != nil {
		return nil, err
	}
	return Dispatch(child, code, input)
}

func (f *frame) child(self common.Address, code Contract, caller common.Address, value *uint256.Int) (*frame, error) {
	if f.depth+1 > maxCallDepth {
		return nil, ErrDepth
	}
	return &frame{
		exec:   f.exec,
		self:   self,
		code:   code,
		caller: caller,
		value:  value,
		depth:  f.depth + 1,
	}, nil
}

// codeAt returns the contract bound to addr, or nil for accounts without code.
func (e *execution) codeAt(addr common.Address) (Contract, error) {
	acc, err := e.journal.account(addr)
	if err != nil {
		return nil, err
	}
	if !acc.IsContract() {
		return nil, nil
	}
	return e.registry.Lookup(acc.Code)
}
