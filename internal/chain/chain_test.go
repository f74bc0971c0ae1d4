package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/smarterescrow/internal/receipts"
	"github.com/mbd888/smarterescrow/internal/state"
)

const vaultABIJSON = `[
	{"type":"constructor","stateMutability":"payable","inputs":[{"name":"seed","type":"uint256"}]},
	{"type":"function","name":"set","stateMutability":"nonpayable","inputs":[{"name":"key","type":"uint256"},{"name":"value","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"get","stateMutability":"view","inputs":[{"name":"key","type":"uint256"}],"outputs":[{"name":"value","type":"uint256"}]},
	{"type":"function","name":"setAndFail","stateMutability":"payable","inputs":[{"name":"key","type":"uint256"},{"name":"value","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"scan","stateMutability":"nonpayable","inputs":[{"name":"n","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"pay","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"Set","anonymous":false,"inputs":[{"name":"key","type":"uint256","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

var (
	vaultABI = func() *abi.ABI {
		parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
		if err != nil {
			panic(err)
		}
		return &parsed
	}()
	errBoom = errors.New("boom")

	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	coinbase = common.HexToAddress("0xc0ffee0000000000000000000000000000000000")

	hundredEther = uint256.MustFromDecimal("100000000000000000000")
)

// vault is a test contract exercising storage, logs, transfers and reverts.
type vault struct{}

func (vault) CodeID() string { return "Vault" }
func (vault) ABI() *abi.ABI  { return vaultABI }

func (vault) Construct(env Env, args []interface{}) error {
	return env.SStore(common.Hash{}, common.BigToHash(args[0].(*big.Int)))
}

func (vault) Run(env Env, method *abi.Method, args []interface{}) ([]interface{}, error) {
	switch method.Name {
	case "set", "setAndFail":
		key, value := args[0].(*big.Int), args[1].(*big.Int)
		if err := env.SStore(common.BigToHash(key), common.BigToHash(value)); err != nil {
			return nil, err
		}
		if method.Name == "setAndFail" {
			return nil, Revert(errBoom, "boom")
		}
		return nil, env.Emit("Set", key, value)
	case "get":
		w, err := env.SLoad(common.BigToHash(args[0].(*big.Int)))
		if err != nil {
			return nil, err
		}
		return []interface{}{w.Big()}, nil
	case "scan":
		n := args[0].(*big.Int).Int64()
		for i := int64(0); i < n; i++ {
			if _, err := env.SLoad(common.BigToHash(big.NewInt(1000 + i))); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "pay":
		return nil, env.Transfer(args[0].(common.Address), uint256.MustFromBig(args[1].(*big.Int)))
	}
	return nil, nil
}

type testEnv struct {
	ctx      context.Context
	chain    *Chain
	receipts *receipts.Service
	mined    []*receipts.Receipt
}

func newTestChain(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	te := &testEnv{ctx: context.Background(), receipts: receipts.NewService(receipts.NewMemoryStore())}
	base := []Option{
		WithRegistry(NewRegistry(vault{})),
		WithReceipts(te.receipts),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithCoinbase(coinbase),
		WithReceiptSink(func(_ context.Context, r *receipts.Receipt) { te.mined = append(te.mined, r) }),
	}
	te.chain = New(state.NewMemoryStore(), append(base, opts...)...)
	applied, err := te.chain.Genesis(te.ctx, map[common.Address]*uint256.Int{alice: hundredEther, bob: hundredEther})
	require.NoError(t, err)
	require.True(t, applied)
	return te
}

func (te *testEnv) balance(t *testing.T, addr common.Address) *uint256.Int {
	t.Helper()
	bal, err := te.chain.BalanceAt(te.ctx, addr)
	require.NoError(t, err)
	return bal
}

func (te *testEnv) deployVault(t *testing.T, seed int64) common.Address {
	t.Helper()
	res, err := te.chain.Deploy(te.ctx, DeployTx{From: alice, Code: "Vault", Args: []interface{}{big.NewInt(seed)}})
	require.NoError(t, err)
	return res.ContractAddress
}

func TestGenesis_AppliedOnce(t *testing.T) {
	te := newTestChain(t)

	applied, err := te.chain.Genesis(te.ctx, map[common.Address]*uint256.Int{alice: uint256.NewInt(1)})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, hundredEther, te.balance(t, alice))

	head, err := te.chain.Head(te.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head)
}

func TestTransact_NoGenesis(t *testing.T) {
	c := New(state.NewMemoryStore())
	_, err := c.Transact(context.Background(), Tx{From: alice, To: bob})
	assert.True(t, errors.Is(err, ErrNoGenesis))
	_, err = c.Head(context.Background())
	assert.True(t, errors.Is(err, ErrNoGenesis))
}

func TestTransact_PlainTransferChargesIntrinsicGas(t *testing.T) {
	te := newTestChain(t)
	value := uint256.NewInt(1_000_000)

	res, err := te.chain.Transact(te.ctx, Tx{From: alice, To: bob, Value: value})
	require.NoError(t, err)

	r := res.Receipt
	assert.Equal(t, uint64(21000), r.GasUsed)
	assert.Equal(t, uint64(1), r.BlockNumber)
	assert.Equal(t, "transfer", r.Method)
	fee := new(uint256.Int).Mul(uint256.NewInt(21000), DefaultGasPrice)
	assert.Equal(t, fee.Dec(), r.Fee)

	wantAlice := new(uint256.Int).Sub(hundredEther, new(uint256.Int).Add(value, fee))
	assert.Equal(t, wantAlice, te.balance(t, alice))
	assert.Equal(t, new(uint256.Int).Add(hundredEther, value), te.balance(t, bob))
	assert.Equal(t, fee, te.balance(t, coinbase))

	nonce, err := te.chain.NonceAt(te.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	stored, err := te.receipts.Get(te.ctx, r.TxHash)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(alice.Hex()), stored.From)
	require.Len(t, te.mined, 1)
	assert.Equal(t, r.TxHash, te.mined[0].TxHash)
}

func TestDeploy_RunsConstructor(t *testing.T) {
	te := newTestChain(t)

	res, err := te.chain.Deploy(te.ctx, DeployTx{From: alice, Code: "Vault", Value: uint256.NewInt(5), Args: []interface{}{big.NewInt(42)}})
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(alice, 0), res.ContractAddress)
	assert.Equal(t, strings.ToLower(res.ContractAddress.Hex()), res.Receipt.ContractAddress)
	assert.Equal(t, "create:Vault", res.Receipt.Method)

	code, err := te.chain.CodeAt(te.ctx, res.ContractAddress)
	require.NoError(t, err)
	assert.Equal(t, "Vault", code)

	seed, err := te.chain.StorageAt(te.ctx, res.ContractAddress, common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), seed.Big().Int64())
	assert.Equal(t, uint64(5), te.balance(t, res.ContractAddress).Uint64())

	_, err = te.chain.Deploy(te.ctx, DeployTx{From: alice, Code: "Missing"})
	assert.True(t, errors.Is(err, ErrUnknownCode))
}

func TestInvoke_StoresAndEmits(t *testing.T) {
	te := newTestChain(t)
	addr := te.deployVault(t, 0)

	res, err := te.chain.Invoke(te.ctx, bob, addr, nil, "set", big.NewInt(7), big.NewInt(99))
	require.NoError(t, err)
	assert.Equal(t, "set", res.Receipt.Method)

	require.Len(t, res.Receipt.Logs, 1)
	l := res.Receipt.Logs[0]
	assert.Equal(t, "Set", l.Event)
	assert.Len(t, l.Topics, 2)
	assert.Equal(t, vaultABI.Events["Set"].ID.Hex(), l.Topics[0])
	assert.Equal(t, "7", l.Args["key"])
	assert.Equal(t, "99", l.Args["value"])

	out, err := te.chain.CallMethod(te.ctx, bob, addr, "get", big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, int64(99), out[0].(*big.Int).Int64())

	fee, ok := new(big.Int).SetString(res.Receipt.Fee, 10)
	require.True(t, ok)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(int64(res.Receipt.GasUsed)), DefaultGasPrice.ToBig()).String(), fee.String())
}

func TestDispatch_Errors(t *testing.T) {
	te := newTestChain(t)
	addr := te.deployVault(t, 0)

	_, err := te.chain.Transact(te.ctx, Tx{From: bob, To: addr, Data: []byte{0xde, 0xad, 0xbe, 0xef}})
	assert.True(t, errors.Is(err, ErrMethodNotFound))

	_, err = te.chain.Transact(te.ctx, Tx{From: bob, To: addr, Data: []byte{0x01}})
	assert.True(t, errors.Is(err, ErrMethodNotFound))

	_, err = te.chain.Invoke(te.ctx, bob, addr, nil, "nope")
	assert.True(t, errors.Is(err, ErrMethodNotFound))

	_, err = te.chain.Invoke(te.ctx, bob, addr, uint256.NewInt(1), "set", big.NewInt(1), big.NewInt(1))
	assert.True(t, errors.Is(err, ErrNotPayable))
	reason, ok := RevertReason(err)
	assert.True(t, ok)
	assert.Equal(t, "Method is not payable", reason)

	sel := vaultABI.Methods["get"].ID
	_, err = te.chain.Transact(te.ctx, Tx{From: bob, To: addr, Data: append(append([]byte{}, sel...), 0x01)})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestFailedTransaction_LeavesNoTrace(t *testing.T) {
	te := newTestChain(t)
	addr := te.deployVault(t, 0)
	head, err := te.chain.Head(te.ctx)
	require.NoError(t, err)
	bobBefore, cbBefore := te.balance(t, bob), te.balance(t, coinbase)
	mined := len(te.mined)

	_, err = te.chain.Invoke(te.ctx, bob, addr, uint256.NewInt(500), "setAndFail", big.NewInt(3), big.NewInt(4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))

	var rerr *RevertError
	require.True(t, errors.As(err, &rerr))
	reason, err := abi.UnpackRevert(rerr.Data())
	require.NoError(t, err)
	assert.Equal(t, "boom", reason)

	slot, err := te.chain.StorageAt(te.ctx, addr, common.BigToHash(big.NewInt(3)))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, slot)
	assert.Equal(t, bobBefore, te.balance(t, bob))
	assert.Equal(t, cbBefore, te.balance(t, coinbase))
	assert.True(t, te.balance(t, addr).IsZero())

	nonce, err := te.chain.NonceAt(te.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
	after, err := te.chain.Head(te.ctx)
	require.NoError(t, err)
	assert.Equal(t, head, after)
	assert.Len(t, te.mined, mined)

	list, err := te.receipts.ListByAccount(te.ctx, bob.Hex(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGas_Limits(t *testing.T) {
	te := newTestChain(t)
	addr := te.deployVault(t, 0)

	data, err := vaultABI.Pack("scan", big.NewInt(100))
	require.NoError(t, err)
	_, err = te.chain.Transact(te.ctx, Tx{From: bob, To: addr, Data: data, GasLimit: 50_000})
	assert.True(t, errors.Is(err, ErrOutOfGas))
	assert.Equal(t, hundredEther, te.balance(t, bob))

	_, err = te.chain.Transact(te.ctx, Tx{From: bob, To: alice, GasLimit: 20_000})
	assert.True(t, errors.Is(err, ErrIntrinsicGas))

	_, err = te.chain.Transact(te.ctx, Tx{From: bob, To: alice, Value: hundredEther})
	assert.True(t, errors.Is(err, ErrInsufficientFunds))

	poor := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err = te.chain.Transact(te.ctx, Tx{From: poor, To: alice})
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
}

func TestContractTransfer(t *testing.T) {
	te := newTestChain(t)
	addr := te.deployVault(t, 0)

	_, err := te.chain.Invoke(te.ctx, bob, addr, uint256.NewInt(1000), "deposit")
	require.NoError(t, err)

	carol := common.HexToAddress("0x4444444444444444444444444444444444444444")
	_, err = te.chain.Invoke(te.ctx, bob, addr, nil, "pay", carol, big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, uint64(400), te.balance(t, carol).Uint64())
	assert.Equal(t, uint64(600), te.balance(t, addr).Uint64())

	_, err = te.chain.Invoke(te.ctx, bob, addr, nil, "pay", carol, big.NewInt(601))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, uint64(600), te.balance(t, addr).Uint64())
}

func TestCall_ReadOnly(t *testing.T) {
	te := newTestChain(t)
	addr := te.deployVault(t, 11)

	data, err := vaultABI.Pack("set", big.NewInt(0), big.NewInt(12))
	require.NoError(t, err)
	_, err = te.chain.Call(te.ctx, Tx{From: bob, To: addr, Data: data})
	require.NoError(t, err)

	out, err := te.chain.CallMethod(te.ctx, bob, addr, "get", big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, int64(11), out[0].(*big.Int).Int64())

	nonce, err := te.chain.NonceAt(te.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
	assert.Equal(t, hundredEther, te.balance(t, bob))
}

func TestChain_CustomGasPrice(t *testing.T) {
	te := newTestChain(t, WithGasPrice(uint256.NewInt(2)), WithChainID(99))
	assert.Equal(t, int64(99), te.chain.ChainID().Int64())

	res, err := te.chain.Transact(te.ctx, Tx{From: alice, To: bob})
	require.NoError(t, err)
	assert.Equal(t, "42000", res.Receipt.Fee)
	assert.Equal(t, "2", res.Receipt.EffectiveGasPrice)
}

func TestIntrinsicGas(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		creation bool
		want     uint64
	}{
		{"empty call", nil, false, 21000},
		{"empty create", nil, true, 53000},
		{"zero and nonzero bytes", []byte{0, 1, 0, 2}, false, 21000 + 2*4 + 2*16},
	}
	for _, tt := range tests {
		if got := IntrinsicGas(tt.data, tt.creation); got != tt.want {
			t.Errorf("%s: IntrinsicGas = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSstoreGas(t *testing.T) {
	zero, one, two := common.Hash{}, common.BigToHash(big.NewInt(1)), common.BigToHash(big.NewInt(2))
	tests := []struct {
		name                  string
		original, current, to common.Hash
		want                  uint64
	}{
		{"noop", one, one, one, 100},
		{"set fresh slot", zero, zero, one, 20000},
		{"reset slot", one, one, two, 2900},
		{"dirty slot", zero, one, two, 100},
	}
	for _, tt := range tests {
		if got := sstoreGas(tt.original, tt.current, tt.to); got != tt.want {
			t.Errorf("%s: sstoreGas = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestGasMeter(t *testing.T) {
	g := &gasMeter{limit: 100}
	if err := g.consume(60); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := g.consume(41); !errors.Is(err, ErrOutOfGas) {
		t.Errorf("consume past limit: got %v, want ErrOutOfGas", err)
	}
	if g.used != 100 {
		t.Errorf("used = %d, want limit after exhaustion", g.used)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(vault{})
	assert.Error(t, r.Register(vault{}))

	_, err := r.Lookup("Nope")
	assert.True(t, errors.Is(err, ErrUnknownCode))

	c, err := r.Lookup("Vault")
	require.NoError(t, err)
	assert.Equal(t, "Vault", c.CodeID())
	assert.Equal(t, []string{"Vault"}, r.IDs())
}

func TestContextCancelled(t *testing.T) {
	te := newTestChain(t)
	unlock, err := te.chain.mu.LockContext(te.ctx)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(te.ctx)
	cancel()
	_, err = te.chain.Transact(ctx, Tx{From: alice, To: bob})
	assert.True(t, errors.Is(err, context.Canceled))
}
