package escrow

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI fragments shared by every escrow logic version.
const (
	viewsABI = `
	{"type":"function","name":"buyer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"seller","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"paid","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"stage","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"version","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"string"}]}`

	lifecycleABI = `
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"confirmDelivery","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"Deposited","anonymous":false,"inputs":[
		{"name":"buyer","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"DeliveryConfirmed","anonymous":false,"inputs":[
		{"name":"seller","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}`

	constructorABI = `
	{"type":"constructor","stateMutability":"nonpayable","inputs":[
		{"name":"_buyer","type":"address"},
		{"name":"_seller","type":"address"}]}`

	initializeABI = `
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[
		{"name":"_buyer","type":"address"},
		{"name":"_seller","type":"address"}],"outputs":[]}`

	ejectABI = `
	{"type":"function","name":"ejectFunds","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"FundsEjected","anonymous":false,"inputs":[
		{"name":"buyer","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}`
)

var (
	escrowABI = mustABI(constructorABI, lifecycleABI, viewsABI)
	v0ABI     = mustABI(initializeABI, lifecycleABI, viewsABI)
	v1ABI     = mustABI(initializeABI, lifecycleABI, ejectABI, viewsABI)
)

func mustABI(fragments ...string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader("[" + strings.Join(fragments, ",") + "]"))
	if err != nil {
		panic("escrow: bad ABI: " + err.Error())
	}
	return &parsed
}

// EscrowABI returns the ABI of the plain constructor-initialized escrow.
func EscrowABI() *abi.ABI { return escrowABI }

// V0ABI returns the ABI of the first upgradeable escrow.
func V0ABI() *abi.ABI { return v0ABI }

// V1ABI returns the ABI of the upgraded escrow with ejectFunds.
func V1ABI() *abi.ABI { return v1ABI }
