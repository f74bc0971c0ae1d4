package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Contract is native code bound to an account. Implementations are
// stateless: everything they keep lives in the storage reached through Env.
type Contract interface {
	// CodeID names the code; it is what an account records as its code.
	CodeID() string
	ABI() *abi.ABI
	// Run executes a method already resolved and unpacked by Dispatch.
	Run(env Env, method *abi.Method, args []interface{}) ([]interface{}, error)
}

// Constructor is implemented by code that runs once at deployment with the
// unpacked constructor arguments.
type Constructor interface {
	Construct(env Env, args []interface{}) error
}

// Fallback is implemented by code that takes over all dispatch, such as
// a proxy. When present, Dispatch hands it the raw input.
type Fallback interface {
	Fallback(env Env, input []byte) ([]byte, error)
}

// StorageReader reads committed contract storage.
type StorageReader interface {
	Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
}

// Forwarder is implemented by code that forwards calls to the code of
// another account. Target reports where calls at self currently go.
type Forwarder interface {
	Target(ctx context.Context, r StorageReader, self common.Address) (common.Address, error)
}

// Env is the execution environment handed to running code.
type Env interface {
	Context() context.Context
	// Self is the account whose storage and balance the code operates on.
	Self() common.Address
	Caller() common.Address
	Value() *uint256.Int

	SLoad(slot common.Hash) (common.Hash, error)
	SStore(slot, value common.Hash) error
	Balance(addr common.Address) (*uint256.Int, error)
	HasCode(addr common.Address) (bool, error)
	// Transfer moves amount from Self to addr.
	Transfer(addr common.Address, amount *uint256.Int) error
	// Emit appends a log for the named event of the running code's ABI.
	// Args follow the event's input order.
	Emit(event string, args ...interface{}) error

	// Call runs to's code as Self with value attached.
	Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error)
	// DelegateCall runs impl's code against Self's storage and balance,
	// keeping Caller and Value.
	DelegateCall(impl common.Address, input []byte) ([]byte, error)
}

// Dispatch routes input to a method of c: selector lookup, payable check,
// argument decoding, output encoding.
func Dispatch(env Env, c Contract, input []byte) ([]byte, error) {
	if fb, ok := c.(Fallback); ok {
		return fb.Fallback(env, input)
	}
	if len(input) < 4 {
		return nil, fmt.Errorf("%w: no selector in %d byte input", ErrMethodNotFound, len(input))
	}

	method, err := c.ABI().MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %#x on %s", ErrMethodNotFound, input[:4], c.CodeID())
	}
	if !env.Value().IsZero() && !method.IsPayable() {
		return nil, Revert(ErrNotPayable, "Method is not payable")
	}

	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, method.Name, err)
	}
	out, err := c.Run(env, method, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

// Registry maps code IDs to native contracts.
type Registry struct {
	mu    sync.RWMutex
	codes map[string]Contract
}

// NewRegistry creates a registry holding cs.
func NewRegistry(cs ...Contract) *Registry {
	r := &Registry{codes: make(map[string]Contract)}
	for _, c := range cs {
		r.codes[c.CodeID()] = c
	}
	return r
}

// Register adds c. Registering a second contract under the same ID fails.
func (r *Registry) Register(c Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.codes[c.CodeID()]; dup {
		return fmt.Errorf("chain: code %q already registered", c.CodeID())
	}
	r.codes[c.CodeID()] = c
	return nil
}

// Lookup returns the contract registered under id.
func (r *Registry) Lookup(id string) (Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCode, id)
	}
	return c, nil
}

// IDs returns the registered code IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.codes))
	for id := range r.codes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
