package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolInfo is the static metadata of a constant-product pair.
type PoolInfo struct {
	Pair      common.Address
	Token0    common.Address
	Token1    common.Address
	Decimals0 uint8
	Decimals1 uint8
}

// Reserves is one on-chain reading of a pair's balances.
type Reserves struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
	// Block is the block the reading was taken at.
	Block uint64
}
