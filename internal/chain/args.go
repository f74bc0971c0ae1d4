package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ParseArgs converts string arguments from an API request into the Go
// values the ABI packer expects for inputs.
func ParseArgs(inputs abi.Arguments, raw []string) ([]interface{}, error) {
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("%w: want %d args, got %d", ErrInvalidInput, len(inputs), len(raw))
	}
	out := make([]interface{}, len(raw))
	for i, in := range inputs {
		v, err := parseArg(in.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("%w: arg %d (%s): %v", ErrInvalidInput, i, in.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func parseArg(t abi.Type, s string) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		if t.Size > 64 {
			return n, nil
		}
		return smallInt(t, n)
	case abi.FixedBytesTy:
		if t.Size != 32 {
			break
		}
		if !strings.HasPrefix(s, "0x") || len(s) != 66 {
			return nil, fmt.Errorf("invalid bytes32 %q", s)
		}
		return [32]byte(common.HexToHash(s)), nil
	case abi.BytesTy:
		return common.FromHex(s), nil
	}
	return nil, fmt.Errorf("unsupported type %s", t.String())
}

// smallInt returns the sized Go integer go-ethereum packs for intN/uintN
// with N <= 64.
func smallInt(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range", n)
		}
		u := n.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		case 64:
			return u, nil
		}
	} else {
		if !n.IsInt64() {
			return nil, fmt.Errorf("%s out of range", n)
		}
		i := n.Int64()
		switch t.Size {
		case 8:
			return int8(i), nil
		case 16:
			return int16(i), nil
		case 32:
			return int32(i), nil
		case 64:
			return i, nil
		}
	}
	return nil, fmt.Errorf("unsupported size %d", t.Size)
}

// FormatValues renders decoded ABI outputs as JSON friendly values.
func FormatValues(args abi.Arguments, values []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for i, v := range values {
		name := ""
		if i < len(args) {
			name = args[i].Name
		}
		if name == "" {
			name = strconv.Itoa(i)
		}
		switch x := v.(type) {
		case common.Address:
			out[name] = strings.ToLower(x.Hex())
		case *big.Int:
			out[name] = x.String()
		case [32]byte:
			out[name] = common.Hash(x).Hex()
		case []byte:
			out[name] = "0x" + common.Bytes2Hex(x)
		default:
			out[name] = v
		}
	}
	return out
}
