// Package chain is a single-node execution host for native contracts.
//
// Every transaction runs against a journal over the state store and is
// committed as one changeset, mining exactly one block. A transaction that
// fails for any reason leaves no trace: no state change, no fee, no nonce
// bump and no receipt.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mbd888/smarterescrow/internal/metrics"
	"github.com/mbd888/smarterescrow/internal/receipts"
	"github.com/mbd888/smarterescrow/internal/state"
	"github.com/mbd888/smarterescrow/internal/syncutil"
	"github.com/mbd888/smarterescrow/internal/traces"
)

// DefaultGasPrice is 1 gwei.
var DefaultGasPrice = uint256.NewInt(1_000_000_000)

// Tx is a call to an existing account.
type Tx struct {
	From     common.Address
	To       common.Address
	Value    *uint256.Int
	Data     []byte
	GasLimit uint64
}

// DeployTx creates a contract running the registered code Code. Args are
// the constructor arguments.
type DeployTx struct {
	From     common.Address
	Code     string
	Value    *uint256.Int
	Args     []interface{}
	GasLimit uint64
}

// Result is the outcome of a mined transaction.
type Result struct {
	Receipt *receipts.Receipt
	Return  []byte
	// ContractAddress is set for deployments.
	ContractAddress common.Address
}

// ReceiptSink observes mined receipts after commit.
type ReceiptSink func(ctx context.Context, r *receipts.Receipt)

// Chain executes transactions against a state store.
type Chain struct {
	store    state.Store
	registry *Registry
	receipts *receipts.Service
	logger   *slog.Logger
	mu       *syncutil.ContextMutex
	sinks    []ReceiptSink

	chainID  *big.Int
	gasPrice *uint256.Int
	gasLimit uint64
	coinbase common.Address
}

// Option configures a Chain.
type Option func(*Chain)

func WithRegistry(r *Registry) Option         { return func(c *Chain) { c.registry = r } }
func WithReceipts(s *receipts.Service) Option { return func(c *Chain) { c.receipts = s } }
func WithLogger(l *slog.Logger) Option        { return func(c *Chain) { c.logger = l } }
func WithChainID(id int64) Option             { return func(c *Chain) { c.chainID = big.NewInt(id) } }
func WithGasLimit(limit uint64) Option        { return func(c *Chain) { c.gasLimit = limit } }
func WithCoinbase(addr common.Address) Option { return func(c *Chain) { c.coinbase = addr } }
func WithReceiptSink(sink ReceiptSink) Option {
	return func(c *Chain) { c.sinks = append(c.sinks, sink) }
}
func WithGasPrice(price *uint256.Int) Option {
	return func(c *Chain) { c.gasPrice = new(uint256.Int).Set(price) }
}

// New creates a chain over store.
func New(store state.Store, opts ...Option) *Chain {
	c := &Chain{
		store:    store,
		registry: NewRegistry(),
		logger:   slog.Default(),
		mu:       syncutil.NewContextMutex(),
		chainID:  big.NewInt(1337),
		gasPrice: new(uint256.Int).Set(DefaultGasPrice),
		gasLimit: DefaultGasLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the code registry.
func (c *Chain) Registry() *Registry { return c.registry }

// GasPrice returns the price charged per unit of gas.
func (c *Chain) GasPrice() *uint256.Int { return new(uint256.Int).Set(c.gasPrice) }

// Coinbase returns the fee recipient.
func (c *Chain) Coinbase() common.Address { return c.coinbase }

// ChainID returns the chain id mixed into transaction hashes.
func (c *Chain) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Genesis credits alloc and mines block 0. It is a no-op returning false
// when the store already has a head.
func (c *Chain) Genesis(ctx context.Context, alloc map[common.Address]*uint256.Int) (bool, error) {
	unlock, err := c.mu.LockContext(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	if _, ok, err := c.store.Head(ctx); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	j := newJournal(ctx, c.store)
	for addr, amount := range alloc {
		if err := j.credit(addr, amount); err != nil {
			return false, err
		}
	}
	zero := uint64(0)
	if err := c.store.Commit(ctx, j.changeSet(&zero)); err != nil {
		return false, fmt.Errorf("commit genesis: %w", err)
	}
	metrics.BlockHeight.Set(0)
	c.logger.Info("genesis applied", "accounts", len(alloc))
	return true, nil
}

// message is the internal form of Tx and DeployTx.
type message struct {
	from     common.Address
	to       *common.Address
	code     string
	value    *uint256.Int
	data     []byte
	gasLimit uint64
	method   string
}

// Transact executes tx and mines it.
func (c *Chain) Transact(ctx context.Context, tx Tx) (*Result, error) {
	to := tx.To
	msg := &message{from: tx.From, to: &to, value: tx.Value, data: tx.Data, gasLimit: tx.GasLimit}
	return c.run(ctx, "chain.Transact", msg, false)
}

// Deploy creates a contract and mines the creation.
func (c *Chain) Deploy(ctx context.Context, tx DeployTx) (*Result, error) {
	code, err := c.registry.Lookup(tx.Code)
	if err != nil {
		return nil, err
	}
	data, err := code.ABI().Pack("", tx.Args...)
	if err != nil {
		return nil, fmt.Errorf("%w: constructor of %s: %v", ErrInvalidInput, tx.Code, err)
	}
	msg := &message{from: tx.From, code: tx.Code, value: tx.Value, data: data, gasLimit: tx.GasLimit, method: "create:" + tx.Code}
	return c.run(ctx, "chain.Deploy", msg, false)
}

// Call executes tx without mining it and returns the output.
func (c *Chain) Call(ctx context.Context, tx Tx) ([]byte, error) {
	to := tx.To
	msg := &message{from: tx.From, to: &to, value: tx.Value, data: tx.Data, gasLimit: tx.GasLimit}
	res, err := c.run(ctx, "chain.Call", msg, true)
	if err != nil {
		return nil, err
	}
	return res.Return, nil
}

// Invoke packs method and args against the ABI reachable at to and
// transacts.
func (c *Chain) Invoke(ctx context.Context, from, to common.Address, value *uint256.Int, method string, args ...interface{}) (*Result, error) {
	data, err := c.pack(ctx, to, method, args...)
	if err != nil {
		return nil, err
	}
	return c.Transact(ctx, Tx{From: from, To: to, Value: value, Data: data})
}

// CallMethod is the read-only counterpart of Invoke; it decodes the output.
func (c *Chain) CallMethod(ctx context.Context, from, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	a, err := c.ABIAt(ctx, to)
	if err != nil {
		return nil, err
	}
	data, err := packMethod(a, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.Call(ctx, Tx{From: from, To: to, Data: data})
	if err != nil {
		return nil, err
	}
	return a.Unpack(method, out)
}

func (c *Chain) pack(ctx context.Context, to common.Address, method string, args ...interface{}) ([]byte, error) {
	a, err := c.ABIAt(ctx, to)
	if err != nil {
		return nil, err
	}
	return packMethod(a, method, args...)
}

func packMethod(a *abi.ABI, method string, args ...interface{}) ([]byte, error) {
	if _, ok := a.Methods[method]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, method, err)
	}
	return data, nil
}

func (c *Chain) run(ctx context.Context, spanName string, msg *message, readOnly bool) (*Result, error) {
	if msg.value == nil {
		msg.value = new(uint256.Int)
	}
	if msg.method == "" {
		msg.method = c.methodName(ctx, msg)
	}
	attrs := []attribute.KeyValue{traces.From(lowerHex(msg.from)), traces.Value(msg.value.Dec()), traces.Method(msg.method)}
	if msg.to != nil {
		attrs = append(attrs, traces.To(lowerHex(*msg.to)))
	}
	ctx, span := traces.StartSpan(ctx, spanName, attrs...)

	res, err := c.execute(ctx, msg, readOnly)
	if res != nil && res.Receipt != nil {
		span.SetAttributes(traces.TxHash(res.Receipt.TxHash), traces.GasUsed(res.Receipt.GasUsed))
	}
	traces.End(span, err)

	if !readOnly {
		c.observe(ctx, msg, res, err)
	}
	return res, err
}

func (c *Chain) execute(ctx context.Context, msg *message, readOnly bool) (*Result, error) {
	unlock, err := c.mu.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, ok, err := c.store.Head(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoGenesis
	}

	gasLimit := msg.gasLimit
	if gasLimit == 0 {
		gasLimit = c.gasLimit
	}
	intrinsic := IntrinsicGas(msg.data, msg.to == nil)
	if gasLimit < intrinsic {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, gasLimit, intrinsic)
	}

	price := c.gasPrice
	if readOnly {
		price = new(uint256.Int)
	}

	j := newJournal(ctx, c.store)
	sender, err := j.account(msg.from)
	if err != nil {
		return nil, err
	}
	upfront, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gasLimit), price)
	if !overflow {
		upfront, overflow = upfront.AddOverflow(upfront, msg.value)
	}
	if overflow || sender.Balance.Lt(upfront) {
		return nil, fmt.Errorf("%w: %s has %s", ErrInsufficientFunds, msg.from.Hex(), sender.Balance.Dec())
	}
	nonce := sender.Nonce

	meter := &gasMeter{limit: gasLimit}
	if err := meter.consume(intrinsic); err != nil {
		return nil, err
	}
	exec := &execution{ctx: ctx, registry: c.registry, journal: j, gas: meter}

	res := &Result{}
	if msg.to == nil {
		res.ContractAddress = crypto.CreateAddress(msg.from, nonce)
		err = c.create(exec, msg, res.ContractAddress)
	} else {
		res.Return, err = c.call(exec, msg)
	}
	if err != nil {
		return nil, err
	}
	if readOnly {
		return res, nil
	}

	fee := new(uint256.Int).Mul(uint256.NewInt(meter.used), price)
	if err := j.move(msg.from, c.coinbase, fee); err != nil {
		return nil, err
	}
	sender.Nonce++
	j.touch(msg.from)

	block := head + 1
	hash := c.txHash(msg, nonce, gasLimit)
	if err := c.store.Commit(ctx, j.changeSet(&block)); err != nil {
		return nil, fmt.Errorf("commit block %d: %w", block, err)
	}

	r := &receipts.Receipt{
		TxHash:            strings.ToLower(hash.Hex()),
		BlockNumber:       block,
		From:              lowerHex(msg.from),
		Method:            msg.method,
		Value:             msg.value.Dec(),
		GasUsed:           meter.used,
		EffectiveGasPrice: price.Dec(),
		Fee:               fee.Dec(),
		Status:            receipts.StatusSuccess,
		Logs:              j.receiptLogs(hash, block),
		CreatedAt:         time.Now().UTC(),
	}
	if msg.to != nil {
		r.To = lowerHex(*msg.to)
	} else {
		r.ContractAddress = lowerHex(res.ContractAddress)
	}
	res.Receipt = r

	if err := c.receipts.Record(ctx, r); err != nil {
		c.logger.Error("failed to record receipt", "hash", r.TxHash, "error", err)
	}
	return res, nil
}

func (c *Chain) create(exec *execution, msg *message, addr common.Address) error {
	code, err := c.registry.Lookup(msg.code)
	if err != nil {
		return err
	}
	j := exec.journal
	acc, err := j.account(addr)
	if err != nil {
		return err
	}
	if acc.IsContract() || acc.Nonce > 0 {
		return fmt.Errorf("%w: %s", ErrAddressCollision, addr.Hex())
	}
	acc.Code = code.CodeID()
	acc.Nonce = 1
	j.touch(addr)
	j.warmAccount(msg.from)
	j.warmAccount(addr)

	ctorDef := code.ABI().Constructor
	if !msg.value.IsZero() && !ctorDef.IsPayable() {
		return Revert(ErrNotPayable, "Method is not payable")
	}
	if err := j.move(msg.from, addr, msg.value); err != nil {
		return err
	}

	ctor, ok := code.(Constructor)
	if !ok {
		if len(msg.data) > 0 {
			return fmt.Errorf("%w: %s takes no constructor arguments", ErrInvalidInput, msg.code)
		}
		return nil
	}
	args, err := ctorDef.Inputs.Unpack(msg.data)
	if err != nil {
		return fmt.Errorf("%w: constructor of %s: %v", ErrInvalidInput, msg.code, err)
	}
	f := &frame{exec: exec, self: addr, code: code, caller: msg.from, value: msg.value}
	return ctor.Construct(f, args)
}

func (c *Chain) call(exec *execution, msg *message) ([]byte, error) {
	to := *msg.to
	j := exec.journal
	j.warmAccount(msg.from)
	j.warmAccount(to)
	if err := j.move(msg.from, to, msg.value); err != nil {
		return nil, err
	}
	code, err := exec.codeAt(to)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, nil
	}
	f := &frame{exec: exec, self: to, code: code, caller: msg.from, value: msg.value}
	return Dispatch(f, code, msg.data)
}

// txRLP is the hashed form of a transaction.
type txRLP struct {
	ChainID  *big.Int
	Nonce    uint64
	From     common.Address
	To       []byte
	Code     string
	Value    *big.Int
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
}

func (c *Chain) txHash(msg *message, nonce, gas uint64) common.Hash {
	var to []byte
	if msg.to != nil {
		to = msg.to.Bytes()
	}
	enc, err := rlp.EncodeToBytes(&txRLP{
		ChainID:  c.chainID,
		Nonce:    nonce,
		From:     msg.from,
		To:       to,
		Code:     msg.code,
		Value:    msg.value.ToBig(),
		Data:     msg.data,
		Gas:      gas,
		GasPrice: c.gasPrice.ToBig(),
	})
	if err != nil {
		// Every field is RLP-encodable; reaching here is a programming error.
		panic(fmt.Sprintf("chain: encode tx: %v", err))
	}
	return crypto.Keccak256Hash(enc)
}

// methodName labels msg for logs, metrics and receipts.
func (c *Chain) methodName(ctx context.Context, msg *message) string {
	if msg.to == nil {
		return "create:" + msg.code
	}
	if len(msg.data) < 4 {
		return "transfer"
	}
	a, err := c.ABIAt(ctx, *msg.to)
	if err != nil {
		return "unknown"
	}
	m, err := a.MethodById(msg.data[:4])
	if err != nil {
		return "unknown"
	}
	return m.Name
}

func (c *Chain) observe(ctx context.Context, msg *message, res *Result, err error) {
	switch {
	case err == nil:
		metrics.TransactionsTotal.WithLabelValues(msg.method, "mined").Inc()
		metrics.GasUsed.Observe(float64(res.Receipt.GasUsed))
		metrics.BlockHeight.Set(float64(res.Receipt.BlockNumber))
		c.logger.Info("transaction mined",
			"hash", res.Receipt.TxHash,
			"block", res.Receipt.BlockNumber,
			"method", msg.method,
			"from", res.Receipt.From,
			"gas", res.Receipt.GasUsed,
		)
		for _, sink := range c.sinks {
			sink(ctx, res.Receipt)
		}
	case isRevert(err):
		metrics.TransactionsTotal.WithLabelValues(msg.method, "reverted").Inc()
		c.logger.Debug("transaction reverted", "method", msg.method, "from", lowerHex(msg.from), "error", err)
	default:
		metrics.TransactionsTotal.WithLabelValues(msg.method, "rejected").Inc()
		c.logger.Debug("transaction rejected", "method", msg.method, "from", lowerHex(msg.from), "error", err)
	}
}

func isRevert(err error) bool {
	var rerr *RevertError
	return errors.As(err, &rerr)
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
