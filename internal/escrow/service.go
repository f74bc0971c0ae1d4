package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mbd888/smarterescrow/internal/chain"
	"github.com/mbd888/smarterescrow/internal/metrics"
	"github.com/mbd888/smarterescrow/internal/proxy"
	"github.com/mbd888/smarterescrow/internal/receipts"
	"github.com/mbd888/smarterescrow/internal/traces"
)

// View is the observable state of one escrow.
type View struct {
	Address        string `json:"address"`
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	Paid           bool   `json:"paid"`
	Stage          string `json:"stage"`
	Balance        string `json:"balance"`
	Version        string `json:"version"`
	Code           string `json:"code"`
	Implementation string `json:"implementation,omitempty"`
}

// Result pairs the escrow state after a transaction with its receipt.
type Result struct {
	Escrow  *View             `json:"escrow"`
	Receipt *receipts.Receipt `json:"receipt"`
}

// Service runs the escrow workflow against a chain. Proxies are managed by
// one proxy.Project per deploying account.
type Service struct {
	chain  *chain.Chain
	logger *slog.Logger

	mu       sync.Mutex
	projects map[common.Address]*proxy.Project
}

// NewService creates an escrow service. The chain's registry must hold the
// escrow and proxy contracts.
func NewService(c *chain.Chain, logger *slog.Logger) *Service {
	return &Service{
		chain:    c,
		logger:   logger,
		projects: make(map[common.Address]*proxy.Project),
	}
}

func (s *Service) project(from common.Address) *proxy.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[from]
	if !ok {
		p = proxy.NewProject(s.chain, from, s.logger, NewSmarterEscrowV0(), NewSmarterEscrowV1())
		s.projects[from] = p
	}
	return p
}

// Deploy creates a plain escrow between buyer and seller.
func (s *Service) Deploy(ctx context.Context, from, buyer, seller common.Address) (_ *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Deploy", traces.From(lower(from)), traces.Version(VersionEscrow))
	defer func() { traces.End(span, err) }()

	res, err := s.chain.Deploy(ctx, chain.DeployTx{
		From: from,
		Code: CodeEscrow,
		Args: []interface{}{buyer, seller},
	})
	if err != nil {
		return nil, err
	}
	metrics.EscrowDeployedTotal.WithLabelValues(VersionEscrow).Inc()
	s.logger.Info("escrow deployed",
		"address", lower(res.ContractAddress),
		"buyer", lower(buyer),
		"seller", lower(seller),
	)
	return s.result(ctx, res.ContractAddress, res.Receipt)
}

// CreateProxy deploys an upgradeable escrow of version behind a proxy.
func (s *Service) CreateProxy(ctx context.Context, from common.Address, version string, buyer, seller common.Address) (*Result, error) {
	inst, err := s.project(from).CreateProxy(ctx, version, buyer, seller)
	if err != nil {
		return nil, err
	}
	metrics.EscrowDeployedTotal.WithLabelValues(version).Inc()
	return s.result(ctx, inst.Address, inst.Receipt)
}

// Upgrade swaps the logic of the proxied escrow at addr to version. Only
// the account that created the proxy can upgrade it.
func (s *Service) Upgrade(ctx context.Context, from, addr common.Address, version string) (*Result, error) {
	if _, err := s.Get(ctx, addr); err != nil {
		return nil, err
	}
	inst, err := s.project(from).UpgradeProxy(ctx, addr, version)
	if err != nil {
		return nil, err
	}
	return s.result(ctx, inst.Address, inst.Receipt)
}

// Deposit pays value into the escrow from the buyer.
func (s *Service) Deposit(ctx context.Context, from, addr common.Address, value *uint256.Int) (*Result, error) {
	res, err := s.invoke(ctx, from, addr, value, "deposit")
	if err != nil {
		return nil, err
	}
	metrics.EscrowDepositedTotal.Inc()
	return res, nil
}

// ConfirmDelivery releases the escrowed funds to the seller.
func (s *Service) ConfirmDelivery(ctx context.Context, from, addr common.Address) (*Result, error) {
	res, err := s.invoke(ctx, from, addr, nil, "confirmDelivery")
	if err != nil {
		return nil, err
	}
	metrics.EscrowReleasedTotal.Inc()
	return res, nil
}

// EjectFunds returns the escrowed funds to the buyer. Only upgraded logic
// has it.
func (s *Service) EjectFunds(ctx context.Context, from, addr common.Address) (*Result, error) {
	res, err := s.invoke(ctx, from, addr, nil, "ejectFunds")
	if err != nil {
		return nil, err
	}
	metrics.EscrowEjectedTotal.Inc()
	return res, nil
}

func (s *Service) invoke(ctx context.Context, from, addr common.Address, value *uint256.Int, method string) (_ *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow."+method,
		traces.From(lower(from)), traces.EscrowAddr(lower(addr)), traces.Method(method))
	defer func() { traces.End(span, err) }()

	if _, err := s.Get(ctx, addr); err != nil {
		return nil, err
	}
	res, err := s.chain.Invoke(ctx, from, addr, value, method)
	if err != nil {
		return nil, err
	}
	s.logger.Info("escrow "+method, "address", lower(addr), "from", lower(from), "tx", res.Receipt.TxHash)
	return s.result(ctx, addr, res.Receipt)
}

// Get returns the current state of the escrow at addr.
func (s *Service) Get(ctx context.Context, addr common.Address) (*View, error) {
	code, err := s.chain.CodeAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotEscrow, addr.Hex())
	}
	target, impl, err := s.chain.TargetAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	logic, ok := impl.(*Logic)
	if !ok {
		return nil, fmt.Errorf("%w: %s runs %s", ErrNotEscrow, addr.Hex(), impl.CodeID())
	}

	acc, err := ReadAccount(ctx, s.chain.State(), addr)
	if err != nil {
		return nil, err
	}
	bal, err := s.chain.BalanceAt(ctx, addr)
	if err != nil {
		return nil, err
	}

	v := &View{
		Address: lower(addr),
		Buyer:   lower(acc.Buyer),
		Seller:  lower(acc.Seller),
		Paid:    acc.Paid,
		Stage:   acc.Stage.String(),
		Balance: bal.Dec(),
		Version: logic.Version(),
		Code:    code,
	}
	if target != addr {
		v.Implementation = lower(target)
	}
	return v, nil
}

func (s *Service) result(ctx context.Context, addr common.Address, r *receipts.Receipt) (*Result, error) {
	v, err := s.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Result{Escrow: v, Receipt: r}, nil
}

func lower(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
