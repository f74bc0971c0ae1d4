package chain

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoGenesis         = errors.New("chain: genesis not applied")
	ErrInsufficientFunds = errors.New("chain: insufficient funds for gas * price + value")
	ErrIntrinsicGas      = errors.New("chain: intrinsic gas too low")
	ErrOutOfGas          = errors.New("chain: out of gas")
	ErrNoCode            = errors.New("chain: no code at address")
	ErrUnknownCode       = errors.New("chain: unknown code id")
	ErrAddressCollision  = errors.New("chain: contract address collision")
	ErrMethodNotFound    = errors.New("chain: method not found")
	ErrNotPayable        = errors.New("chain: method is not payable")
	ErrInvalidInput      = errors.New("chain: invalid call data")
	ErrUnknownEvent      = errors.New("chain: unknown event")
	ErrDepth             = errors.New("chain: max call depth exceeded")
	ErrBalanceOverflow   = errors.New("chain: balance overflow")
)

// revertSelector is the 4-byte id of Error(string).
var revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

// RevertError is returned when contract code aborts execution. Reason is the
// human readable message carried in the return data; Cause is the sentinel
// the caller can match with errors.Is.
type RevertError struct {
	Reason string
	Cause  error
}

// Revert builds a RevertError.
func Revert(cause error, reason string) error {
	return &RevertError{Reason: reason, Cause: cause}
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) Unwrap() error {
	return e.Cause
}

// Data returns the Error(string) encoded return data.
func (e *RevertError) Data() []byte {
	if e.Reason == "" {
		return nil
	}
	typ, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: typ}}.Pack(e.Reason)
	if err != nil {
		return nil
	}
	return append(append([]byte{}, revertSelector...), packed...)
}

// RevertReason extracts the revert reason from err, if it is a revert.
func RevertReason(err error) (string, bool) {
	var rerr *RevertError
	if !errors.As(err, &rerr) {
		return "", false
	}
	return rerr.Reason, true
}
