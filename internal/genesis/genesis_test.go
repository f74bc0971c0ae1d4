package genesis

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/mbd888/smarterescrow/internal/chain"
	"github.com/mbd888/smarterescrow/internal/state"
)

func TestNewDevAccounts_Deterministic(t *testing.T) {
	a, err := NewDevAccounts(DefaultSeed, 3)
	if err != nil {
		t.Fatalf("NewDevAccounts: %v", err)
	}
	b, err := NewDevAccounts(DefaultSeed, 3)
	if err != nil {
		t.Fatalf("NewDevAccounts: %v", err)
	}
	for i := 0; i < 3; i++ {
		if a.At(i).Address != b.At(i).Address {
			t.Errorf("account %d differs between derivations", i)
		}
	}

	other, err := NewDevAccounts("another seed", 1)
	if err != nil {
		t.Fatalf("NewDevAccounts: %v", err)
	}
	if other.At(0).Address == a.At(0).Address {
		t.Error("different seeds derived the same account")
	}
}

func TestNewDevAccounts_KeysMatchAddresses(t *testing.T) {
	d, err := NewDevAccounts(DefaultSeed, 2)
	if err != nil {
		t.Fatalf("NewDevAccounts: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}
	for i := 0; i < d.Len(); i++ {
		acc := d.At(i)
		key, err := crypto.HexToECDSA(strings.TrimPrefix(acc.PrivateKeyHex(), "0x"))
		if err != nil {
			t.Fatalf("parse key %d: %v", i, err)
		}
		if got := crypto.PubkeyToAddress(key.PublicKey); got != acc.Address {
			t.Errorf("key %d derives %s, want %s", i, got.Hex(), acc.Address.Hex())
		}
		if !d.Unlocked(acc.Address) {
			t.Errorf("account %d not unlocked", i)
		}
	}
	if d.Unlocked(common.HexToAddress("0x01")) {
		t.Error("foreign address reported unlocked")
	}
	if !strings.Contains(d.String(), d.At(1).Address.Hex()) {
		t.Error("String() misses an address")
	}
}

func TestNewDevAccounts_RejectsZero(t *testing.T) {
	if _, err := NewDevAccounts(DefaultSeed, 0); err == nil {
		t.Error("expected error for zero accounts")
	}
}

func TestApply_FundsOnce(t *testing.T) {
	ctx := context.Background()
	d, err := NewDevAccounts(DefaultSeed, 2)
	if err != nil {
		t.Fatalf("NewDevAccounts: %v", err)
	}
	c := chain.New(state.NewMemoryStore())
	balance := uint256.NewInt(1_000)

	applied, err := Apply(ctx, c, d, balance)
	if err != nil || !applied {
		t.Fatalf("Apply = %v, %v; want true, nil", applied, err)
	}
	applied, err = Apply(ctx, c, d, uint256.NewInt(5))
	if err != nil || applied {
		t.Fatalf("second Apply = %v, %v; want false, nil", applied, err)
	}

	for _, addr := range d.Addresses() {
		bal, err := c.BalanceAt(ctx, addr)
		if err != nil {
			t.Fatalf("BalanceAt: %v", err)
		}
		if !bal.Eq(balance) {
			t.Errorf("balance of %s = %s, want %s", addr.Hex(), bal.Dec(), balance.Dec())
		}
	}

	alloc := d.Alloc(balance)
	alloc[d.At(0).Address].SetUint64(1)
	if !balance.Eq(uint256.NewInt(1_000)) {
		t.Error("Alloc shares the balance value")
	}
}
