package proxy

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/smarterescrow/internal/chain"
)

const adminABIJSON = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getProxyImplementation","stateMutability":"view","inputs":[{"name":"proxy","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getProxyAdmin","stateMutability":"view","inputs":[{"name":"proxy","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"changeProxyAdmin","stateMutability":"nonpayable","inputs":[
		{"name":"proxy","type":"address"},
		{"name":"newAdmin","type":"address"}],"outputs":[]},
	{"type":"function","name":"upgrade","stateMutability":"nonpayable","inputs":[
		{"name":"proxy","type":"address"},
		{"name":"implementation","type":"address"}],"outputs":[]},
	{"type":"function","name":"transferOwnership","stateMutability":"nonpayable","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}]}
]`

var adminABI = func() *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(adminABIJSON))
	if err != nil {
		panic("proxy: bad proxy admin ABI: " + err.Error())
	}
	return &parsed
}()

// ownerSlot holds the ProxyAdmin owner.
var ownerSlot = common.Hash{}

// ProxyAdmin is the admin contract of transparent proxies. Only its owner
// may upgrade the proxies it administers.
type ProxyAdmin struct{}

var (
	_ chain.Contract    = ProxyAdmin{}
	_ chain.Constructor = ProxyAdmin{}
)

func (ProxyAdmin) CodeID() string { return CodeProxyAdmin }
func (ProxyAdmin) ABI() *abi.ABI  { return adminABI }

// Construct makes the deployer the owner.
func (ProxyAdmin) Construct(env chain.Env, _ []interface{}) error {
	if err := env.SStore(ownerSlot, addrWord(env.Caller())); err != nil {
		return err
	}
	return env.Emit("OwnershipTransferred", common.Address{}, env.Caller())
}

func (a ProxyAdmin) Run(env chain.Env, method *abi.Method, args []interface{}) ([]interface{}, error) {
	switch method.Name {
	case "owner":
		owner, err := a.owner(env)
		if err != nil {
			return nil, err
		}
		return []interface{}{owner}, nil
	case "getProxyImplementation":
		return a.query(env, args, "implementation")
	case "getProxyAdmin":
		return a.query(env, args, "admin")
	}

	if err := a.onlyOwner(env); err != nil {
		return nil, err
	}
	switch method.Name {
	case "upgrade":
		return nil, a.forward(env, args[0], "upgradeTo", args[1])
	case "changeProxyAdmin":
		return nil, a.forward(env, args[0], "changeAdmin", args[1])
	case "transferOwnership":
		next, _ := args[0].(common.Address)
		if next == (common.Address{}) {
			return nil, chain.Revert(ErrZeroAdmin, "Ownable: new owner is the zero address")
		}
		prev, err := a.owner(env)
		if err != nil {
			return nil, err
		}
		if err := env.SStore(ownerSlot, addrWord(next)); err != nil {
			return nil, err
		}
		return nil, env.Emit("OwnershipTransferred", prev, next)
	}
	return nil, fmt.Errorf("%w: %s", chain.ErrMethodNotFound, method.Name)
}

func (ProxyAdmin) owner(env chain.Env) (common.Address, error) {
	w, err := env.SLoad(ownerSlot)
	if err != nil {
		return common.Address{}, err
	}
	return wordAddr(w), nil
}

func (a ProxyAdmin) onlyOwner(env chain.Env) error {
	owner, err := a.owner(env)
	if err != nil {
		return err
	}
	if env.Caller() != owner {
		return chain.Revert(ErrNotOwner, ReasonNotOwner)
	}
	return nil
}

// query calls an address-returning admin function of the proxy.
func (ProxyAdmin) query(env chain.Env, args []interface{}, fn string) ([]interface{}, error) {
	proxy, _ := args[0].(common.Address)
	input, err := transparentABI.Pack(fn)
	if err != nil {
		return nil, err
	}
	out, err := env.Call(proxy, nil, input)
	if err != nil {
		return nil, err
	}
	return transparentABI.Unpack(fn, out)
}

func (ProxyAdmin) forward(env chain.Env, proxy interface{}, fn string, args ...interface{}) error {
	to, _ := proxy.(common.Address)
	input, err := transparentABI.Pack(fn, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", chain.ErrInvalidInput, fn, err)
	}
	_, err = env.Call(to, nil, input)
	return err
}

// Contracts returns the proxy machinery to register on a chain.
func Contracts() []chain.Contract {
	return []chain.Contract{TransparentProxy{}, ProxyAdmin{}}
}
