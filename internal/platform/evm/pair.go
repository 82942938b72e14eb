package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PairInfo resolves the pair's token order and both tokens' decimals.
func (c *Client) PairInfo(ctx context.Context, pair common.Address) (domain.PoolInfo, error) {
	token0, err := c.addressCall(ctx, pair, "token0")
	if err != nil {
		return domain.PoolInfo{}, err
	}
	token1, err := c.addressCall(ctx, pair, "token1")
	if err != nil {
		return domain.PoolInfo{}, err
	}
	dec0, err := c.Decimals(ctx, token0)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	dec1, err := c.Decimals(ctx, token1)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	return domain.PoolInfo{Pair: pair, Token0: token0, Token1: token1, Decimals0: dec0, Decimals1: dec1}, nil
}

func (c *Client) addressCall(ctx context.Context, pair common.Address, method string) (common.Address, error) {
	data, err := pairABI.Pack(method)
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	out, err := c.call(ctx, pair, data, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: %s %s: %w", method, pair.Hex(), err)
	}
	vals, err := pairABI.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return common.Address{}, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("evm: unpack %s: unexpected type %T", method, vals[0])
	}
	return addr, nil
}

// Decimals reads an ERC-20 token's decimals.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("evm: pack decimals: %w", err)
	}
	out, err := c.call(ctx, token, data, nil)
	if err != nil {
		return 0, fmt.Errorf("evm: decimals %s: %w", token.Hex(), err)
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("evm: unpack decimals: %w", err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("evm: unpack decimals: unexpected type %T", vals[0])
	}
	return d, nil
}

// Reserves reads getReserves at the current head and tags the result with
// that block number.
func (c *Client) Reserves(ctx context.Context, pair common.Address) (domain.Reserves, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("evm: block number: %w", err)
	}
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("evm: pack getReserves: %w", err)
	}
	out, err := c.call(ctx, pair, data, new(big.Int).SetUint64(head))
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("evm: getReserves %s: %w", pair.Hex(), err)
	}
	vals, err := pairABI.Unpack("getReserves", out)
	if err != nil || len(vals) != 3 {
		return domain.Reserves{}, fmt.Errorf("evm: unpack getReserves: %w", err)
	}
	r0, ok0 := vals[0].(*big.Int)
	r1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return domain.Reserves{}, fmt.Errorf("evm: unpack getReserves: unexpected types %T, %T", vals[0], vals[1])
	}
	return domain.Reserves{Reserve0: r0, Reserve1: r1, Block: head}, nil
}

// AmountsOut quotes amountIn along path through a V2 router.
func (c *Client) AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("evm: pack getAmountsOut: %w", err)
	}
	out, err := c.call(ctx, router, data, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: getAmountsOut: %w", err)
	}
	vals, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("evm: unpack getAmountsOut: %w", err)
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: unpack getAmountsOut: unexpected type %T", vals[0])
	}
	return amounts, nil
}
