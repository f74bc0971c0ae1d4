package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/mbd888/smarterescrow/internal/receipts"
	"github.com/mbd888/smarterescrow/internal/state"
)

// journal buffers every read and write of one transaction on top of the
// store. Nothing reaches the store until changeSet is committed; dropping
// the journal discards the transaction.
type journal struct {
	ctx   context.Context
	store state.Store

	accounts      map[common.Address]*state.Account
	dirtyAccounts map[common.Address]struct{}

	original   map[common.Address]map[common.Hash]common.Hash
	current    map[common.Address]map[common.Hash]common.Hash
	dirtySlots map[common.Address]map[common.Hash]struct{}
	warm       map[common.Address]struct{}

	logs []emitted
}

type emitted struct {
	log   *types.Log
	event string
	args  map[string]string
}

func newJournal(ctx context.Context, store state.Store) *journal {
	return &journal{
		ctx:           ctx,
		store:         store,
		accounts:      make(map[common.Address]*state.Account),
		dirtyAccounts: make(map[common.Address]struct{}),
		original:      make(map[common.Address]map[common.Hash]common.Hash),
		current:       make(map[common.Address]map[common.Hash]common.Hash),
		dirtySlots:    make(map[common.Address]map[common.Hash]struct{}),
		warm:          make(map[common.Address]struct{}),
	}
}

// account returns the journaled account, loading it on first use. The
// returned pointer may be mutated after calling touch.
func (j *journal) account(addr common.Address) (*state.Account, error) {
	if acc, ok := j.accounts[addr]; ok {
		return acc, nil
	}
	acc, err := j.store.Account(j.ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", addr.Hex(), err)
	}
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	j.accounts[addr] = acc
	return acc, nil
}

func (j *journal) touch(addr common.Address) {
	j.dirtyAccounts[addr] = struct{}{}
}

// warmAccount marks addr accessed and reports whether it already was.
func (j *journal) warmAccount(addr common.Address) bool {
	_, ok := j.warm[addr]
	j.warm[addr] = struct{}{}
	return ok
}

// slot returns the original and current value of a slot and whether this
// was the first access in the transaction.
func (j *journal) slot(addr common.Address, key common.Hash) (orig, cur common.Hash, cold bool, err error) {
	if slots, ok := j.current[addr]; ok {
		if v, ok := slots[key]; ok {
			return j.original[addr][key], v, false, nil
		}
	}
	v, err := j.store.Storage(j.ctx, addr, key)
	if err != nil {
		return common.Hash{}, common.Hash{}, false, fmt.Errorf("load slot %s/%s: %w", addr.Hex(), key.Hex(), err)
	}
	if j.original[addr] == nil {
		j.original[addr] = make(map[common.Hash]common.Hash)
		j.current[addr] = make(map[common.Hash]common.Hash)
	}
	j.original[addr][key] = v
	j.current[addr][key] = v
	return v, v, true, nil
}

func (j *journal) setSlot(addr common.Address, key, value common.Hash) {
	j.current[addr][key] = value
	if j.dirtySlots[addr] == nil {
		j.dirtySlots[addr] = make(map[common.Hash]struct{})
	}
	j.dirtySlots[addr][key] = struct{}{}
}

// move transfers amount between two accounts.
func (j *journal) move(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	src, err := j.account(from)
	if err != nil {
		return err
	}
	if src.Balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), src.Balance.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst, err := j.account(to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst.Balance, amount)
	if overflow {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to.Hex())
	}
	src.Balance = new(uint256.Int).Sub(src.Balance, amount)
	dst.Balance = sum
	j.touch(from)
	j.touch(to)
	return nil
}

// credit adds amount to addr without a debit, used for genesis allocation.
func (j *journal) credit(addr common.Address, amount *uint256.Int) error {
	acc, err := j.account(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(acc.Balance, amount)
	if overflow {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr.Hex())
	}
	acc.Balance = sum
	j.touch(addr)
	return nil
}

// addLog builds a log for the named event of a and records it.
func (j *journal) addLog(self common.Address, a *abi.ABI, name string, args []interface{}) (*types.Log, error) {
	ev, ok := a.Events[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if len(args) != len(ev.Inputs) {
		return nil, fmt.Errorf("%w: %s takes %d args, got %d", ErrUnknownEvent, name, len(ev.Inputs), len(args))
	}

	topics := []common.Hash{ev.ID}
	var data []interface{}
	fields := make(map[string]string, len(args))
	for i, in := range ev.Inputs {
		fields[in.Name] = formatArg(args[i])
		if !in.Indexed {
			data = append(data, args[i])
			continue
		}
		t, err := abi.MakeTopics([]interface{}{args[i]})
		if err != nil {
			return nil, fmt.Errorf("event %s topic %s: %w", name, in.Name, err)
		}
		topics = append(topics, t[0][0])
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("event %s data: %w", name, err)
	}

	l := &types.Log{Address: self, Topics: topics, Data: packed, Index: uint(len(j.logs))}
	j.logs = append(j.logs, emitted{log: l, event: name, args: fields})
	return l, nil
}

func formatArg(v interface{}) string {
	switch x := v.(type) {
	case common.Address:
		return strings.ToLower(x.Hex())
	case *big.Int:
		return x.String()
	case *uint256.Int:
		return x.Dec()
	case common.Hash:
		return x.Hex()
	default:
		return fmt.Sprint(v)
	}
}

// changeSet collects the dirty state.
func (j *journal) changeSet(head *uint64) *state.ChangeSet {
	cs := state.NewChangeSet()
	for addr := range j.dirtyAccounts {
		cs.Accounts[addr] = j.accounts[addr].Copy()
	}
	for addr, keys := range j.dirtySlots {
		for key := range keys {
			if j.current[addr][key] == j.original[addr][key] {
				continue
			}
			cs.SetStorage(addr, key, j.current[addr][key])
		}
	}
	cs.Head = head
	return cs
}

func (j *journal) receiptLogs(txHash common.Hash, block uint64) []receipts.Log {
	out := make([]receipts.Log, 0, len(j.logs))
	for _, e := range j.logs {
		e.log.TxHash = txHash
		e.log.BlockNumber = block
		topics := make([]string, len(e.log.Topics))
		for i, t := range e.log.Topics {
			topics[i] = t.Hex()
		}
		out = append(out, receipts.Log{
			Address: strings.ToLower(e.log.Address.Hex()),
			Event:   e.event,
			Topics:  topics,
			Data:    "0x" + common.Bytes2Hex(e.log.Data),
			Args:    e.args,
		})
	}
	return out
}
