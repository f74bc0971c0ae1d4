// Package proxy deploys contracts behind an address-stable transparent
// proxy and swaps their logic while the proxy keeps its storage and
// balance.
//
// The proxy stores its implementation and admin in the EIP-1967 slots so
// they never collide with the sequential layout of the logic it serves.
package proxy

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrIncompatibleLayout = errors.New("proxy: incompatible storage layout")
	ErrAdminFallback      = errors.New("proxy: admin cannot call fallback")
	ErrNotOwner           = errors.New("proxy: caller is not the owner")
	ErrNotContract        = errors.New("proxy: implementation is not a contract")
	ErrZeroAdmin          = errors.New("proxy: zero admin")
	ErrNotProxy           = errors.New("proxy: address is not a proxy")
	ErrUnknownVersion     = errors.New("proxy: unknown logic version")
)

// Revert reasons.
const (
	ReasonAdminFallback = "Cannot call fallback function from the proxy admin"
	ReasonNotOwner      = "Ownable: caller is not the owner"
	ReasonNotContract   = "Cannot set a proxy implementation to a non-contract address"
	ReasonZeroAdmin     = "Cannot change the admin of a proxy to the zero address"
)

// Code IDs.
const (
	CodeTransparentProxy = "TransparentUpgradeableProxy"
	CodeProxyAdmin       = "ProxyAdmin"
)

// eip1967Slot returns keccak256(label) - 1.
func eip1967Slot(label string) common.Hash {
	h := crypto.Keccak256Hash([]byte(label)).Big()
	return common.BigToHash(h.Sub(h, big.NewInt(1)))
}

var (
	// ImplementationSlot holds the logic address.
	ImplementationSlot = eip1967Slot("eip1967.proxy.implementation")
	// AdminSlot holds the admin address.
	AdminSlot = eip1967Slot("eip1967.proxy.admin")
)

func addrWord(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func wordAddr(w common.Hash) common.Address {
	return common.BytesToAddress(w.Bytes())
}
