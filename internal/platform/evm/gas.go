package evm

import (
	"context"
	"fmt"
	"math/big"
)

// GasPrice returns the suggested priority fee and the latest base fee.
func (c *Client) GasPrice(ctx context.Context) (tip, baseFee *big.Int, err error) {
	tip, err = c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: gas tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: head: %w", err)
	}
	if head.BaseFee == nil {
		return tip, new(big.Int), nil
	}
	return tip, head.BaseFee, nil
}
