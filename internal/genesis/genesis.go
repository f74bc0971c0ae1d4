// Package genesis derives the node's deterministic development accounts and
// funds them in block 0.
package genesis

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/mbd888/smarterescrow/internal/chain"
)

// DefaultSeed derives the same accounts on every fresh node.
const DefaultSeed = "smarterescrow devnet"

// Account is an unlocked development account.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// PrivateKeyHex returns the 0x-prefixed private key.
func (a Account) PrivateKeyHex() string {
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(a.Key))
}

// DevAccounts is the set of unlocked senders.
type DevAccounts struct {
	accounts []Account
	index    map[common.Address]int
}

var _ chain.Signers = (*DevAccounts)(nil)

// NewDevAccounts derives n accounts from seed. Key i is
// keccak256(seed || uint32be(i)).
func NewDevAccounts(seed string, n int) (*DevAccounts, error) {
	if n <= 0 {
		return nil, fmt.Errorf("genesis: need at least one account, got %d", n)
	}
	d := &DevAccounts{
		accounts: make([]Account, 0, n),
		index:    make(map[common.Address]int, n),
	}
	for i := 0; i < n; i++ {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		key, err := crypto.ToECDSA(crypto.Keccak256([]byte(seed), idx[:]))
		if err != nil {
			return nil, fmt.Errorf("genesis: derive key %d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		d.index[addr] = len(d.accounts)
		d.accounts = append(d.accounts, Account{Address: addr, Key: key})
	}
	return d, nil
}

// Addresses returns the account addresses in derivation order.
func (d *DevAccounts) Addresses() []common.Address {
	out := make([]common.Address, len(d.accounts))
	for i, a := range d.accounts {
		out[i] = a.Address
	}
	return out
}

// Unlocked reports whether addr is one of the dev accounts.
func (d *DevAccounts) Unlocked(addr common.Address) bool {
	_, ok := d.index[addr]
	return ok
}

// At returns the i-th account.
func (d *DevAccounts) At(i int) Account {
	return d.accounts[i]
}

// Len returns the number of accounts.
func (d *DevAccounts) Len() int {
	return len(d.accounts)
}

// Alloc funds every account with balance.
func (d *DevAccounts) Alloc(balance *uint256.Int) map[common.Address]*uint256.Int {
	alloc := make(map[common.Address]*uint256.Int, len(d.accounts))
	for _, a := range d.accounts {
		alloc[a.Address] = new(uint256.Int).Set(balance)
	}
	return alloc
}

// Apply mines the genesis block on c unless the store already has one.
func Apply(ctx context.Context, c *chain.Chain, d *DevAccounts, balance *uint256.Int) (bool, error) {
	applied, err := c.Genesis(ctx, d.Alloc(balance))
	if err != nil {
		return false, fmt.Errorf("genesis: %w", err)
	}
	return applied, nil
}

// String lists the addresses, one per line.
func (d *DevAccounts) String() string {
	var b strings.Builder
	for i, a := range d.accounts {
		fmt.Fprintf(&b, "(%d) %s\n", i, a.Address.Hex())
	}
	return b.String()
}
