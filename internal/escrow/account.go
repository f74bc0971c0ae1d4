package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/smarterescrow/internal/chain"
)

// Stage is the lifecycle position of an escrow.
type Stage uint8

const (
	StageCreated Stage = iota
	StageFunded
	StageReleased
	StageEjected
)

func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageFunded:
		return "funded"
	case StageReleased:
		return "released"
	case StageEjected:
		return "ejected"
	default:
		return "unknown"
	}
}

// Storage slots of the escrow fields. New fields may only be appended.
var (
	slotBuyer  = common.BigToHash(big.NewInt(0))
	slotSeller = common.BigToHash(big.NewInt(1))
	slotPaid   = common.BigToHash(big.NewInt(2))
	slotStage  = common.BigToHash(big.NewInt(3))

	// slotInitialized sits outside the sequential layout so that the plain
	// escrow and the upgradeable ones share slots 0-3.
	slotInitialized = crypto.Keccak256Hash([]byte("smarterescrow.initializable.initialized"))
)

// storageLayout names the sequential slots in order.
var storageLayout = []string{"buyer:address", "seller:address", "paid:bool", "stage:uint8"}

// Account is the stored data of one escrow, independent of the logic
// version operating on it.
type Account struct {
	Buyer  common.Address
	Seller common.Address
	Paid   bool
	Stage  Stage
}

var wordTrue = common.BigToHash(big.NewInt(1))

func boolWord(b bool) common.Hash {
	if b {
		return wordTrue
	}
	return common.Hash{}
}

func decode(buyer, seller, paid, stage common.Hash) *Account {
	return &Account{
		Buyer:  common.BytesToAddress(buyer.Bytes()),
		Seller: common.BytesToAddress(seller.Bytes()),
		Paid:   paid != (common.Hash{}),
		Stage:  Stage(stage.Big().Uint64()),
	}
}

// loadAccount reads the account through the executing environment.
func loadAccount(env chain.Env) (*Account, error) {
	var words [4]common.Hash
	for i, slot := range []common.Hash{slotBuyer, slotSeller, slotPaid, slotStage} {
		w, err := env.SLoad(slot)
		if err != nil {
			return nil, err
		}
		words[i] = w
	}
	return decode(words[0], words[1], words[2], words[3]), nil
}

// storeState writes the mutable fields.
func storeState(env chain.Env, acc *Account) error {
	if err := env.SStore(slotPaid, boolWord(acc.Paid)); err != nil {
		return err
	}
	return env.SStore(slotStage, common.BigToHash(new(big.Int).SetUint64(uint64(acc.Stage))))
}

// storeParties writes buyer and seller; only construction and
// initialization call it.
func storeParties(env chain.Env, buyer, seller common.Address) error {
	if err := env.SStore(slotBuyer, common.BytesToHash(buyer.Bytes())); err != nil {
		return err
	}
	return env.SStore(slotSeller, common.BytesToHash(seller.Bytes()))
}

// ReadAccount reads the committed account stored at addr.
func ReadAccount(ctx context.Context, r chain.StorageReader, addr common.Address) (*Account, error) {
	var words [4]common.Hash
	for i, slot := range []common.Hash{slotBuyer, slotSeller, slotPaid, slotStage} {
		w, err := r.Storage(ctx, addr, slot)
		if err != nil {
			return nil, err
		}
		words[i] = w
	}
	return decode(words[0], words[1], words[2], words[3]), nil
}
