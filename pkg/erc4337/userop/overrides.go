package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Override replaces a computed field with an absolute Value, or scales it by
// Multiplier when Value is nil.
type Override struct {
	Value      *big.Int
	Multiplier float64
}

func Absolute(v *big.Int) *Override { return &Override{Value: v} }

func Multiply(m float64) *Override { return &Override{Multiplier: m} }

func (o *Override) IsAbsolute() bool { return o != nil && o.Value != nil }

// Apply returns the field after the override. A nil override keeps value; a
// multiplier over a missing value keeps it missing.
func (o *Override) Apply(value *big.Int) (*big.Int, error) {
	if o == nil {
		return value, nil
	}
	if o.Value != nil {
		return new(big.Int).Set(o.Value), nil
	}
	if value == nil {
		return nil, nil
	}
	return BigIntMultiply(value, o.Multiplier, RoundUp)
}

// Overrides is the per call record that replaces values the middleware
// would compute. Paymaster fields are version specific: PaymasterAndData
// applies to v0.6, the rest to v0.7. A non-nil PaymasterAndData or
// PaymasterData bypasses the paymaster middleware.
type Overrides struct {
	CallGasLimit         *Override `json:"callGasLimit,omitempty"`
	VerificationGasLimit *Override `json:"verificationGasLimit,omitempty"`
	PreVerificationGas   *Override `json:"preVerificationGas,omitempty"`
	MaxFeePerGas         *Override `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *Override `json:"maxPriorityFeePerGas,omitempty"`

	PaymasterAndData *hexutil.Bytes `json:"paymasterAndData,omitempty"`

	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterData                 *hexutil.Bytes  `json:"paymasterData,omitempty"`
	PaymasterVerificationGasLimit *Override       `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *Override       `json:"paymasterPostOpGasLimit,omitempty"`

	// Nonce replaces the entry point nonce entirely; NonceKey selects the
	// parallel nonce sequence queried from the entry point.
	Nonce    *big.Int `json:"nonce,omitempty"`
	NonceKey *big.Int `json:"nonceKey,omitempty"`

	// StateOverride is passed through to eth_estimateUserOperationGas.
	StateOverride map[common.Address]interface{} `json:"stateOverride,omitempty"`
}

// BypassPaymaster reports whether the caller supplied the paymaster field
// and the paymaster middleware must not run.
func (o *Overrides) BypassPaymaster() bool {
	return o != nil && (o.PaymasterAndData != nil || o.PaymasterData != nil)
}

// HasV6Fields reports whether any v0.6 only override is set.
func (o *Overrides) HasV6Fields() bool {
	return o != nil && o.PaymasterAndData != nil
}

// HasV7Fields reports whether any v0.7 only override is set.
func (o *Overrides) HasV7Fields() bool {
	return o != nil && (o.Paymaster != nil || o.PaymasterData != nil ||
		o.PaymasterVerificationGasLimit != nil || o.PaymasterPostOpGasLimit != nil)
}

// Clone returns a shallow copy that is safe to modify at the top level.
func (o *Overrides) Clone() *Overrides {
	if o == nil {
		return &Overrides{}
	}
	c := *o
	return &c
}

// FeeOption bounds a computed fee or gas field: the value is first scaled by
// Multiplier (when non zero) then clamped to [Min, Max].
type FeeOption struct {
	Multiplier float64
	Min        *big.Int
	Max        *big.Int
}

// Apply returns the option applied to value. A missing value becomes Min, or
// zero when no Min is set.
func (f *FeeOption) Apply(value *big.Int) (*big.Int, error) {
	if f == nil {
		return value, nil
	}
	if value == nil {
		if f.Min != nil {
			return new(big.Int).Set(f.Min), nil
		}
		return new(big.Int), nil
	}
	v := value
	if f.Multiplier != 0 {
		var err error
		if v, err = BigIntMultiply(value, f.Multiplier, RoundUp); err != nil {
			return nil, err
		}
	}
	return BigIntClamp(v, f.Min, f.Max)
}

type FeeOptions struct {
	CallGasLimit                  *FeeOption
	VerificationGasLimit          *FeeOption
	PreVerificationGas            *FeeOption
	MaxFeePerGas                  *FeeOption
	MaxPriorityFeePerGas          *FeeOption
	PaymasterVerificationGasLimit *FeeOption
}

// ApplyOverrideOrFeeOption applies override when it can produce a value, and
// falls back to the fee option otherwise.
func ApplyOverrideOrFeeOption(value *big.Int, override *Override, option *FeeOption) (*big.Int, error) {
	if override.IsAbsolute() || (override != nil && value != nil) {
		return override.Apply(value)
	}
	return option.Apply(value)
}
