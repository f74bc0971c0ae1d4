package proxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/smarterescrow/internal/chain"
)

const transparentABIJSON = `[
	{"type":"constructor","stateMutability":"payable","inputs":[
		{"name":"_logic","type":"address"},
		{"name":"admin_","type":"address"},
		{"name":"_data","type":"bytes"}]},
	{"type":"function","name":"admin","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"implementation","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"upgradeTo","stateMutability":"nonpayable","inputs":[{"name":"newImplementation","type":"address"}],"outputs":[]},
	{"type":"function","name":"changeAdmin","stateMutability":"nonpayable","inputs":[{"name":"newAdmin","type":"address"}],"outputs":[]},
	{"type":"event","name":"Upgraded","anonymous":false,"inputs":[{"name":"implementation","type":"address","indexed":true}]},
	{"type":"event","name":"AdminChanged","anonymous":false,"inputs":[
		{"name":"previousAdmin","type":"address","indexed":false},
		{"name":"newAdmin","type":"address","indexed":false}]}
]`

var transparentABI = func() *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(transparentABIJSON))
	if err != nil {
		panic("proxy: bad transparent proxy ABI: " + err.Error())
	}
	return &parsed
}()

// TransparentProxy delegates every call to its implementation, except calls
// from its admin, which only reach the admin functions.
type TransparentProxy struct{}

var (
	_ chain.Contract    = TransparentProxy{}
	_ chain.Constructor = TransparentProxy{}
	_ chain.Fallback    = TransparentProxy{}
	_ chain.Forwarder   = TransparentProxy{}
)

func (TransparentProxy) CodeID() string { return CodeTransparentProxy }
func (TransparentProxy) ABI() *abi.ABI  { return transparentABI }

// Construct points the proxy at logic, records the admin and runs data (if
// any) against the new proxy's storage.
func (p TransparentProxy) Construct(env chain.Env, args []interface{}) error {
	logic, _ := args[0].(common.Address)
	admin, _ := args[1].(common.Address)
	data, _ := args[2].([]byte)

	if err := setImplementation(env, logic); err != nil {
		return err
	}
	if err := env.SStore(AdminSlot, addrWord(admin)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := env.DelegateCall(logic, data)
	return err
}

// Fallback routes every call made to the proxy.
func (p TransparentProxy) Fallback(env chain.Env, input []byte) ([]byte, error) {
	adminWord, err := env.SLoad(AdminSlot)
	if err != nil {
		return nil, err
	}
	if env.Caller() == wordAddr(adminWord) {
		if len(input) < 4 {
			return nil, chain.Revert(ErrAdminFallback, ReasonAdminFallback)
		}
		if _, err := transparentABI.MethodById(input[:4]); err != nil {
			return nil, chain.Revert(ErrAdminFallback, ReasonAdminFallback)
		}
		return chain.Dispatch(env, adminSurface{}, input)
	}

	implWord, err := env.SLoad(ImplementationSlot)
	if err != nil {
		return nil, err
	}
	return env.DelegateCall(wordAddr(implWord), input)
}

// Run is never reached directly; Dispatch hands proxies to Fallback.
func (p TransparentProxy) Run(env chain.Env, method *abi.Method, args []interface{}) ([]interface{}, error) {
	return adminSurface{}.Run(env, method, args)
}

// Target reports the current implementation of the proxy at self.
func (TransparentProxy) Target(ctx context.Context, r chain.StorageReader, self common.Address) (common.Address, error) {
	w, err := r.Storage(ctx, self, ImplementationSlot)
	if err != nil {
		return common.Address{}, err
	}
	impl := wordAddr(w)
	if impl == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNotProxy, self.Hex())
	}
	return impl, nil
}

// adminSurface serves the admin-only functions of the proxy.
type adminSurface struct{}

func (adminSurface) CodeID() string { return CodeTransparentProxy }
func (adminSurface) ABI() *abi.ABI  { return transparentABI }

func (adminSurface) Run(env chain.Env, method *abi.Method, args []interface{}) ([]interface{}, error) {
	switch method.Name {
	case "admin":
		w, err := env.SLoad(AdminSlot)
		if err != nil {
			return nil, err
		}
		return []interface{}{wordAddr(w)}, nil
	case "implementation":
		w, err := env.SLoad(ImplementationSlot)
		if err != nil {
			return nil, err
		}
		return []interface{}{wordAddr(w)}, nil
	case "upgradeTo":
		impl, _ := args[0].(common.Address)
		return nil, setImplementation(env, impl)
	case "changeAdmin":
		next, _ := args[0].(common.Address)
		if next == (common.Address{}) {
			return nil, chain.Revert(ErrZeroAdmin, ReasonZeroAdmin)
		}
		prev, err := env.SLoad(AdminSlot)
		if err != nil {
			return nil, err
		}
		if err := env.SStore(AdminSlot, addrWord(next)); err != nil {
			return nil, err
		}
		return nil, env.Emit("AdminChanged", wordAddr(prev), next)
	}
	return nil, chain.Revert(ErrAdminFallback, ReasonAdminFallback)
}

func setImplementation(env chain.Env, impl common.Address) error {
	ok, err := env.HasCode(impl)
	if err != nil {
		return err
	}
	if !ok {
		return chain.Revert(ErrNotContract, ReasonNotContract)
	}
	if err := env.SStore(ImplementationSlot, addrWord(impl)); err != nil {
		return err
	}
	return env.Emit("Upgraded", impl)
}
