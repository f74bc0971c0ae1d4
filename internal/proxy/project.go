package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/smarterescrow/internal/chain"
	"github.com/mbd888/smarterescrow/internal/metrics"
	"github.com/mbd888/smarterescrow/internal/receipts"
	"github.com/mbd888/smarterescrow/internal/traces"
)

// Versioned is logic code deployable behind a proxy.
type Versioned interface {
	chain.Contract
	Version() string
}

// Layout is implemented by logic that declares its sequential storage
// slots. Upgrades between two Layouts require the new one to extend the
// old one slot for slot.
type Layout interface {
	StorageLayout() []string
}

// Instance is a proxied contract.
type Instance struct {
	Address        common.Address
	Version        string
	Implementation common.Address
	Admin          common.Address
	// Receipt of the transaction that created or upgraded the instance.
	Receipt *receipts.Receipt
}

// Project deploys and upgrades proxies on behalf of one deployer. Logic
// contracts and the ProxyAdmin are deployed on first use and reused.
type Project struct {
	chain    *chain.Chain
	deployer common.Address
	versions map[string]Versioned
	logger   *slog.Logger

	mu     sync.Mutex
	logics map[string]common.Address
	admin  common.Address
}

// NewProject creates a project deploying from deployer.
func NewProject(c *chain.Chain, deployer common.Address, logger *slog.Logger, versions ...Versioned) *Project {
	p := &Project{
		chain:    c,
		deployer: deployer,
		versions: make(map[string]Versioned, len(versions)),
		logger:   logger,
		logics:   make(map[string]common.Address),
	}
	for _, v := range versions {
		p.versions[v.Version()] = v
	}
	return p
}

// Deployer returns the account the project transacts from.
func (p *Project) Deployer() common.Address { return p.deployer }

// CreateProxy deploys a transparent proxy for version and initializes it
// with initArgs in the same transaction.
func (p *Project) CreateProxy(ctx context.Context, version string, initArgs ...interface{}) (*Instance, error) {
	ctx, span := traces.StartSpan(ctx, "proxy.CreateProxy", traces.From(p.deployer.Hex()), traces.Version(version))
	inst, err := p.createProxy(ctx, version, initArgs)
	traces.End(span, err)
	return inst, err
}

func (p *Project) createProxy(ctx context.Context, version string, initArgs []interface{}) (*Instance, error) {
	v, ok := p.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	logic, err := p.logicLocked(ctx, v)
	if err != nil {
		return nil, err
	}
	admin, err := p.adminLocked(ctx)
	if err != nil {
		return nil, err
	}

	var data []byte
	if len(initArgs) > 0 {
		if _, ok := v.ABI().Methods["initialize"]; !ok {
			return nil, fmt.Errorf("%w: %s has no initializer", chain.ErrMethodNotFound, v.CodeID())
		}
		data, err = v.ABI().Pack("initialize", initArgs...)
		if err != nil {
			return nil, fmt.Errorf("%w: initialize: %v", chain.ErrInvalidInput, err)
		}
	}

	res, err := p.chain.Deploy(ctx, chain.DeployTx{
		From: p.deployer,
		Code: CodeTransparentProxy,
		Args: []interface{}{logic, admin, data},
	})
	if err != nil {
		return nil, fmt.Errorf("deploy proxy for %s: %w", version, err)
	}

	p.logger.Info("proxy created",
		"address", res.ContractAddress.Hex(),
		"version", version,
		"implementation", logic.Hex(),
	)
	return &Instance{
		Address:        res.ContractAddress,
		Version:        version,
		Implementation: logic,
		Admin:          admin,
		Receipt:        res.Receipt,
	}, nil
}

// UpgradeProxy points the proxy at addr to the logic of version. The proxy
// keeps its address, storage and balance.
func (p *Project) UpgradeProxy(ctx context.Context, addr common.Address, version string) (*Instance, error) {
	ctx, span := traces.StartSpan(ctx, "proxy.UpgradeProxy",
		traces.From(p.deployer.Hex()), traces.EscrowAddr(addr.Hex()), traces.Version(version))
	inst, err := p.upgradeProxy(ctx, addr, version)
	traces.End(span, err)
	if err == nil {
		metrics.ProxyUpgradesTotal.WithLabelValues(version).Inc()
	}
	return inst, err
}

func (p *Project) upgradeProxy(ctx context.Context, addr common.Address, version string) (*Instance, error) {
	v, ok := p.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}

	// Held across validation so a concurrent upgrade cannot swap the
	// current logic between the layout check and the switch.
	p.mu.Lock()
	defer p.mu.Unlock()

	code, err := p.chain.CodeAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	if code != CodeTransparentProxy {
		return nil, fmt.Errorf("%w: %s", ErrNotProxy, addr.Hex())
	}
	_, current, err := p.chain.TargetAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := CheckLayout(current, v); err != nil {
		return nil, err
	}
	adminWord, err := p.chain.StorageAt(ctx, addr, AdminSlot)
	if err != nil {
		return nil, err
	}
	admin := wordAddr(adminWord)

	// Reject non-owners before the logic deployment below mines anything.
	out, err := p.chain.CallMethod(ctx, p.deployer, admin, "owner")
	if err != nil {
		return nil, fmt.Errorf("read owner of %s: %w", admin.Hex(), err)
	}
	if len(out) != 1 || out[0] != p.deployer {
		return nil, fmt.Errorf("upgrade %s to %s: %w", addr.Hex(), version, chain.Revert(ErrNotOwner, ReasonNotOwner))
	}

	logic, err := p.logicLocked(ctx, v)
	if err != nil {
		return nil, err
	}
	res, err := p.chain.Invoke(ctx, p.deployer, admin, nil, "upgrade", addr, logic)
	if err != nil {
		return nil, fmt.Errorf("upgrade %s to %s: %w", addr.Hex(), version, err)
	}

	p.logger.Info("proxy upgraded",
		"address", addr.Hex(),
		"from", current.CodeID(),
		"to", v.CodeID(),
		"implementation", logic.Hex(),
	)
	return &Instance{
		Address:        addr,
		Version:        version,
		Implementation: logic,
		Admin:          admin,
		Receipt:        res.Receipt,
	}, nil
}

// CheckLayout reports whether storage written by from stays valid under to.
// Code without a declared layout is assumed compatible.
func CheckLayout(from, to chain.Contract) error {
	old, ok := from.(Layout)
	if !ok {
		return nil
	}
	next, ok := to.(Layout)
	if !ok {
		return nil
	}
	oldSlots, newSlots := old.StorageLayout(), next.StorageLayout()
	if len(newSlots) < len(oldSlots) {
		return fmt.Errorf("%w: %s drops %d slot(s) of %s",
			ErrIncompatibleLayout, to.CodeID(), len(oldSlots)-len(newSlots), from.CodeID())
	}
	for i, slot := range oldSlots {
		if newSlots[i] != slot {
			return fmt.Errorf("%w: slot %d is %q in %s, %q in %s",
				ErrIncompatibleLayout, i, slot, from.CodeID(), newSlots[i], to.CodeID())
		}
	}
	return nil
}

func (p *Project) logicLocked(ctx context.Context, v Versioned) (common.Address, error) {
	if addr, ok := p.logics[v.Version()]; ok {
		return addr, nil
	}
	res, err := p.chain.Deploy(ctx, chain.DeployTx{From: p.deployer, Code: v.CodeID()})
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy logic %s: %w", v.CodeID(), err)
	}
	p.logics[v.Version()] = res.ContractAddress
	p.logger.Info("logic deployed", "code", v.CodeID(), "address", res.ContractAddress.Hex())
	return res.ContractAddress, nil
}

func (p *Project) adminLocked(ctx context.Context) (common.Address, error) {
	if p.admin != (common.Address{}) {
		return p.admin, nil
	}
	res, err := p.chain.Deploy(ctx, chain.DeployTx{From: p.deployer, Code: CodeProxyAdmin})
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy proxy admin: %w", err)
	}
	p.admin = res.ContractAddress
	p.logger.Info("proxy admin deployed", "address", p.admin.Hex(), "owner", p.deployer.Hex())
	return p.admin, nil
}
