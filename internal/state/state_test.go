package state

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/smarterescrow/internal/testutil"
)

var (
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract = common.HexToAddress("0x2222222222222222222222222222222222222222")
	slotZero = common.Hash{}
	slotOne  = common.BigToHash(common.Big1)
)

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("missing account is empty", func(t *testing.T) {
		s := newStore(t)
		acc, err := s.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), acc.Nonce)
		assert.True(t, acc.Balance.IsZero())
		assert.False(t, acc.IsContract())
	})

	t.Run("head absent before first commit", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Head(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("commit round trip", func(t *testing.T) {
		s := newStore(t)
		bal, err := uint256.FromDecimal("100000000000000000000")
		require.NoError(t, err)

		cs := NewChangeSet()
		cs.Accounts[alice] = &Account{Nonce: 3, Balance: bal}
		cs.Accounts[contract] = &Account{Nonce: 1, Balance: uint256.NewInt(7), Code: "Escrow"}
		cs.SetStorage(contract, slotZero, common.BytesToHash(alice.Bytes()))
		cs.SetStorage(contract, slotOne, common.BigToHash(common.Big2))
		head := uint64(5)
		cs.Head = &head
		require.NoError(t, s.Commit(ctx, cs))

		acc, err := s.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), acc.Nonce)
		assert.Equal(t, "100000000000000000000", acc.Balance.Dec())

		c, err := s.Account(ctx, contract)
		require.NoError(t, err)
		assert.Equal(t, "Escrow", c.Code)
		assert.True(t, c.IsContract())

		v, err := s.Storage(ctx, contract, slotZero)
		require.NoError(t, err)
		assert.Equal(t, alice, common.BytesToAddress(v.Bytes()))

		n, ok, err := s.Head(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(5), n)
	})

	t.Run("zero word deletes slot", func(t *testing.T) {
		s := newStore(t)
		cs := NewChangeSet()
		cs.SetStorage(contract, slotOne, common.BigToHash(common.Big3))
		require.NoError(t, s.Commit(ctx, cs))

		cs = NewChangeSet()
		cs.SetStorage(contract, slotOne, common.Hash{})
		require.NoError(t, s.Commit(ctx, cs))

		v, err := s.Storage(ctx, contract, slotOne)
		require.NoError(t, err)
		assert.Equal(t, common.Hash{}, v)
	})

	t.Run("returned accounts are copies", func(t *testing.T) {
		s := newStore(t)
		cs := NewChangeSet()
		cs.Accounts[alice] = &Account{Balance: uint256.NewInt(10)}
		require.NoError(t, s.Commit(ctx, cs))

		acc, err := s.Account(ctx, alice)
		require.NoError(t, err)
		acc.Balance.SetUint64(999)

		again, err := s.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), again.Balance.Uint64())
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.Account(context.Background(), alice)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Commit(context.Background(), NewChangeSet()), ErrClosed)
}

func TestLevelDBStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewLevelDBMemory()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestLevelDBStore_ReopenPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	cs := NewChangeSet()
	cs.Accounts[alice] = &Account{Nonce: 1, Balance: uint256.NewInt(42)}
	head := uint64(9)
	cs.Head = &head
	require.NoError(t, s.Commit(ctx, cs))
	require.NoError(t, s.Close())

	s, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	acc, err := s.Account(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), acc.Balance.Uint64())
	n, ok, err := s.Head(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), n)
}

func TestLevelDBStore_Closed(t *testing.T) {
	s, err := NewLevelDBMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Account(context.Background(), alice)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPostgresStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		db, cleanup := testutil.PGTest(t)
		t.Cleanup(cleanup)
		return NewPostgresStore(db)
	})
}
