package eip1559

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// FeeReader is the subset of *ethclient.Client needed to price a user
// operation.
type FeeReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

type Fees struct {
	BaseFee              *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// SuggestFee prices the next block: maxFeePerGas = baseFee + tip. On a chain
// without a base fee (pre EIP-1559) the tip is used for both fields.
func SuggestFee(ctx context.Context, client FeeReader) (*Fees, error) {
	// Get suggested gas tip cap (maxPriorityFeePerGas)
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get latest header: %w", err)
	}

	fees := &Fees{MaxPriorityFeePerGas: new(big.Int).Set(tipCap)}
	if header.BaseFee == nil {
		// Legacy (pre-EIP-1559) chain - use maxPriorityFeePerGas as maxFeePerGas
		fees.BaseFee = new(big.Int)
		fees.MaxFeePerGas = new(big.Int).Set(tipCap)
		return fees, nil
	}

	fees.BaseFee = new(big.Int).Set(header.BaseFee)
	fees.MaxFeePerGas = new(big.Int).Add(header.BaseFee, tipCap)
	return fees, nil
}
