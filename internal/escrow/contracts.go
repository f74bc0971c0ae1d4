package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/smarterescrow/internal/chain"
)

// Logic is one escrow code version. The zero value is unusable; use the
// constructors below.
type Logic struct {
	id          string
	version     string
	abi         *abi.ABI
	initializer bool
	ejectable   bool
}

// NewEscrow returns the plain escrow, whose parties are set by its
// constructor.
func NewEscrow() *Logic {
	return &Logic{id: CodeEscrow, version: VersionEscrow, abi: escrowABI}
}

// NewSmarterEscrowV0 returns the upgradeable escrow.
func NewSmarterEscrowV0() *Logic {
	return &Logic{id: CodeV0, version: VersionV0, abi: v0ABI, initializer: true}
}

// NewSmarterEscrowV1 returns the upgraded escrow with ejectFunds.
func NewSmarterEscrowV1() *Logic {
	return &Logic{id: CodeV1, version: VersionV1, abi: v1ABI, initializer: true, ejectable: true}
}

// Contracts returns every escrow logic version.
func Contracts() []chain.Contract {
	return []chain.Contract{NewEscrow(), NewSmarterEscrowV0(), NewSmarterEscrowV1()}
}

var (
	_ chain.Contract    = (*Logic)(nil)
	_ chain.Constructor = (*Logic)(nil)
)

func (l *Logic) CodeID() string    { return l.id }
func (l *Logic) ABI() *abi.ABI     { return l.abi }
func (l *Logic) Version() string   { return l.version }
func (l *Logic) Upgradeable() bool { return l.initializer }

// StorageLayout lists the sequential slots the logic relies on.
func (l *Logic) StorageLayout() []string {
	return append([]string(nil), storageLayout...)
}

// Construct sets the parties of the plain escrow. Upgradeable versions take
// no constructor arguments and are configured through initialize.
func (l *Logic) Construct(env chain.Env, args []interface{}) error {
	if l.initializer {
		return nil
	}
	buyer, seller, err := parties(args)
	if err != nil {
		return err
	}
	if err := validParties(buyer, seller); err != nil {
		return err
	}
	return storeParties(env, buyer, seller)
}

func (l *Logic) Run(env chain.Env, method *abi.Method, args []interface{}) ([]interface{}, error) {
	switch method.Name {
	case "deposit":
		return nil, deposit(env)
	case "confirmDelivery":
		return nil, confirmDelivery(env)
	case "ejectFunds":
		if !l.ejectable {
			break
		}
		return nil, ejectFunds(env)
	case "initialize":
		if !l.initializer {
			break
		}
		buyer, seller, err := parties(args)
		if err != nil {
			return nil, err
		}
		return nil, initialize(env, buyer, seller)
	case "buyer", "seller", "paid", "stage":
		acc, err := loadAccount(env)
		if err != nil {
			return nil, err
		}
		return []interface{}{view(acc, method.Name)}, nil
	case "version":
		return []interface{}{l.version}, nil
	}
	return nil, fmt.Errorf("%w: %s on %s", chain.ErrMethodNotFound, method.Name, l.id)
}

func view(acc *Account, field string) interface{} {
	switch field {
	case "buyer":
		return acc.Buyer
	case "seller":
		return acc.Seller
	case "paid":
		return acc.Paid
	default:
		return uint8(acc.Stage)
	}
}

func parties(args []interface{}) (common.Address, common.Address, error) {
	if len(args) != 2 {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: want 2 party addresses", chain.ErrInvalidInput)
	}
	buyer, ok1 := args[0].(common.Address)
	seller, ok2 := args[1].(common.Address)
	if !ok1 || !ok2 {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: party arguments must be addresses", chain.ErrInvalidInput)
	}
	return buyer, seller, nil
}
