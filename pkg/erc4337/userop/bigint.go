package userop

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

type RoundingMode int

const (
	RoundUp RoundingMode = iota
	RoundDown
)

// maxMultiplierPlaces bounds the precision of a multiplier; 1.1 and 1.0625
// are accepted, 1.00001 is not.
const maxMultiplierPlaces = 4

// BigIntMultiply multiplies base by a decimal multiplier and rounds the
// product to an integer.
func BigIntMultiply(base *big.Int, multiplier float64, mode RoundingMode) (*big.Int, error) {
	m := decimal.NewFromFloat(multiplier)
	if m.Exponent() < -maxMultiplierPlaces {
		return nil, fmt.Errorf("multiplier %v has more than %d decimal places", multiplier, maxMultiplierPlaces)
	}
	return round(decimal.NewFromBigInt(base, 0).Mul(m), mode), nil
}

// BigIntPercent returns percent% of base.
func BigIntPercent(base *big.Int, percent int64, mode RoundingMode) *big.Int {
	p := decimal.NewFromBigInt(base, 0).Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100))
	return round(p, mode)
}

func round(d decimal.Decimal, mode RoundingMode) *big.Int {
	if mode == RoundDown {
		return d.Floor().BigInt()
	}
	return d.Ceil().BigInt()
}

// BigIntMax returns the largest argument, or nil when called with none.
func BigIntMax(vals ...*big.Int) *big.Int {
	var max *big.Int
	for _, v := range vals {
		if v == nil {
			continue
		}
		if max == nil || v.Cmp(max) > 0 {
			max = v
		}
	}
	if max == nil {
		return nil
	}
	return new(big.Int).Set(max)
}

// BigIntClamp bounds v to [lower, upper]; nil bounds are ignored.
func BigIntClamp(v, lower, upper *big.Int) (*big.Int, error) {
	if lower != nil && upper != nil && upper.Cmp(lower) < 0 {
		return nil, fmt.Errorf("invalid range: upper bound %s is less than lower bound %s", upper, lower)
	}
	out := new(big.Int).Set(v)
	if lower != nil && out.Cmp(lower) < 0 {
		out.Set(lower)
	}
	if upper != nil && out.Cmp(upper) > 0 {
		out.Set(upper)
	}
	return out, nil
}
