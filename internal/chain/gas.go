package chain

import (
	"github.com/ethereum/go-ethereum/params"
)

// DefaultGasLimit is the per-transaction gas limit when the sender gives none.
const DefaultGasLimit uint64 = 6_721_975

// IntrinsicGas returns the gas charged before any code runs.
func IntrinsicGas(data []byte, creation bool) uint64 {
	gas := params.TxGas
	if creation {
		gas = params.TxGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += params.TxDataNonZeroGasEIP2028
		}
	}
	return gas
}

func logGas(topics, dataLen int) uint64 {
	return params.LogGas + uint64(topics)*params.LogTopicGas + uint64(dataLen)*params.LogDataGas
}

// sstoreGas prices a storage write from the slot's value at transaction
// start (original), its current value and the new value.
func sstoreGas(original, current, value [32]byte) uint64 {
	if current == value {
		return params.WarmStorageReadCostEIP2929
	}
	if original == current {
		if original == ([32]byte{}) {
			return params.SstoreSetGasEIP2200
		}
		return params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929
	}
	return params.WarmStorageReadCostEIP2929
}

// gasMeter tracks gas consumption against a limit.
type gasMeter struct {
	limit uint64
	used  uint64
}

func (g *gasMeter) consume(n uint64) error {
	if g.limit-g.used < n {
		g.used = g.limit
		return ErrOutOfGas
	}
	g.used += n
	return nil
}
