package middleware

import (
	"context"
	"fmt"
	"math/big"

	"github.com/AvaProtocol/ap-aa/pkg/eip1559"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

// DefaultPaymasterAndData leaves the operation unsponsored: an empty
// paymasterAndData for v0.6, no paymaster fields for v0.7.
func DefaultPaymasterAndData(_ context.Context, s userop.Struct, _ Params) (userop.Struct, error) {
	out := s.Clone()
	if v6, ok := out.(*userop.StructV6); ok {
		v6.PaymasterAndData = deferred.Of([]byte{})
	}
	return out, nil
}

// OverridePaymasterData writes the caller's paymaster override verbatim. For
// v0.7 an empty paymasterData removes every paymaster field.
func OverridePaymasterData(_ context.Context, s userop.Struct, p Params) (userop.Struct, error) {
	o := p.Overrides
	out := s.Clone()
	switch st := out.(type) {
	case *userop.StructV6:
		if o.PaymasterAndData != nil {
			st.PaymasterAndData = deferred.Of([]byte(*o.PaymasterAndData))
		}
	case *userop.StructV7:
		if o.PaymasterData != nil && len(*o.PaymasterData) == 0 {
			st.ClearPaymaster()
			return out, nil
		}
		if o.Paymaster != nil {
			st.Paymaster = deferred.Of(*o.Paymaster)
		}
		if o.PaymasterData != nil {
			st.PaymasterData = deferred.Of([]byte(*o.PaymasterData))
		}
		if o.PaymasterVerificationGasLimit.IsAbsolute() {
			st.PaymasterVerificationGasLimit = deferred.Of(new(big.Int).Set(o.PaymasterVerificationGasLimit.Value))
		}
		if o.PaymasterPostOpGasLimit.IsAbsolute() {
			st.PaymasterPostOpGasLimit = deferred.Of(new(big.Int).Set(o.PaymasterPostOpGasLimit.Value))
		}
	}
	return out, nil
}

// NewFeeEstimator prices the operation from the latest block: the tip is the
// node's suggestion and maxFeePerGas is baseFee plus the final tip. Both go
// through the caller's override or fee option.
func NewFeeEstimator(chain eip1559.FeeReader) Func {
	return func(ctx context.Context, s userop.Struct, p Params) (userop.Struct, error) {
		fees, err := eip1559.SuggestFee(ctx, chain)
		if err != nil {
			return nil, err
		}
		tip, err := userop.ApplyOverrideOrFeeOption(fees.MaxPriorityFeePerGas, p.Overrides.MaxPriorityFeePerGas, p.FeeOptions.MaxPriorityFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("maxPriorityFeePerGas: %w", err)
		}
		maxFee, err := userop.ApplyOverrideOrFeeOption(new(big.Int).Add(fees.BaseFee, tip), p.Overrides.MaxFeePerGas, p.FeeOptions.MaxFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("maxFeePerGas: %w", err)
		}

		out := s.Clone()
		f := out.Fields()
		f.MaxPriorityFeePerGas = deferred.Of(tip)
		f.MaxFeePerGas = deferred.Of(maxFee)
		return out, nil
	}
}

// NewGasEstimator fills the gas limits from eth_estimateUserOperationGas.
// When every gas limit is an absolute override the bundler is not called.
func NewGasEstimator(b bundler.Client) Func {
	return func(ctx context.Context, s userop.Struct, p Params) (userop.Struct, error) {
		o, fo := p.Overrides, p.FeeOptions
		out := s.Clone()
		f := out.Fields()

		if o.CallGasLimit.IsAbsolute() && o.VerificationGasLimit.IsAbsolute() && o.PreVerificationGas.IsAbsolute() {
			f.CallGasLimit = deferred.Of(new(big.Int).Set(o.CallGasLimit.Value))
			f.VerificationGasLimit = deferred.Of(new(big.Int).Set(o.VerificationGasLimit.Value))
			f.PreVerificationGas = deferred.Of(new(big.Int).Set(o.PreVerificationGas.Value))
			if v7, ok := out.(*userop.StructV7); ok {
				if err := applyPaymasterGas(v7, nil, nil, o, fo); err != nil {
					return nil, err
				}
			}
			return out, nil
		}

		req, err := zeroGasFields(s, false, false).Resolve(ctx)
		if err != nil {
			return nil, err
		}
		ep := p.Account.GetEntryPoint()
		est, err := b.EstimateUserOperationGas(ctx, req, ep.Address, o.StateOverride)
		if err != nil {
			return nil, err
		}

		fields := []struct {
			name     string
			dst      *deferred.Value[*big.Int]
			value    *big.Int
			override *userop.Override
			option   *userop.FeeOption
		}{
			{"callGasLimit", &f.CallGasLimit, bundler.Big(est.CallGasLimit), o.CallGasLimit, fo.CallGasLimit},
			{"verificationGasLimit", &f.VerificationGasLimit, bundler.Big(est.VerificationGasLimit), o.VerificationGasLimit, fo.VerificationGasLimit},
			{"preVerificationGas", &f.PreVerificationGas, bundler.Big(est.PreVerificationGas), o.PreVerificationGas, fo.PreVerificationGas},
		}
		for _, fld := range fields {
			v, err := userop.ApplyOverrideOrFeeOption(fld.value, fld.override, fld.option)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fld.name, err)
			}
			*fld.dst = deferred.Of(v)
		}

		if v7, ok := out.(*userop.StructV7); ok {
			err := applyPaymasterGas(v7, bundler.Big(est.PaymasterVerificationGasLimit), bundler.Big(est.PaymasterPostOpGasLimit), o, fo)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

// applyPaymasterGas fills the v0.7 paymaster gas limits. An unsponsored
// operation only gets the limits the caller sets as absolute overrides; a
// sponsored one always ends with both limits set, zero when nothing else
// supplied them.
func applyPaymasterGas(v7 *userop.StructV7, verification, postOp *big.Int, o *userop.Overrides, fo *userop.FeeOptions) error {
	sponsored := v7.Paymaster.IsSet()

	if sponsored || o.PaymasterVerificationGasLimit.IsAbsolute() {
		v, err := userop.ApplyOverrideOrFeeOption(verification, o.PaymasterVerificationGasLimit, fo.PaymasterVerificationGasLimit)
		if err != nil {
			return fmt.Errorf("paymasterVerificationGasLimit: %w", err)
		}
		if v != nil {
			v7.PaymasterVerificationGasLimit = deferred.Of(v)
		}
	}
	// The paymaster's own post-op limit wins over the bundler's unless the
	// caller overrides it.
	if sponsored || o.PaymasterPostOpGasLimit.IsAbsolute() {
		if o.PaymasterPostOpGasLimit != nil || !v7.PaymasterPostOpGasLimit.IsSet() {
			v, err := o.PaymasterPostOpGasLimit.Apply(postOp)
			if err != nil {
				return fmt.Errorf("paymasterPostOpGasLimit: %w", err)
			}
			if v != nil {
				v7.PaymasterPostOpGasLimit = deferred.Of(v)
			}
		}
	}

	if sponsored {
		for _, v := range []*deferred.Value[*big.Int]{&v7.PaymasterVerificationGasLimit, &v7.PaymasterPostOpGasLimit} {
			if !v.IsSet() {
				*v = deferred.Of(new(big.Int))
			}
		}
	}
	return nil
}

// zeroGasFields returns a copy of s where unset gas and fee fields are zero,
// so the struct can be sent to services that expect every field. With
// paymasterGas the v0.7 paymaster limits are zeroed too; with overwrite set
// fields are zeroed as well.
func zeroGasFields(s userop.Struct, paymasterGas, overwrite bool) userop.Struct {
	out := s.Clone()
	f := out.Fields()
	for _, v := range []*deferred.Value[*big.Int]{
		&f.CallGasLimit, &f.VerificationGasLimit, &f.PreVerificationGas,
		&f.MaxFeePerGas, &f.MaxPriorityFeePerGas,
	} {
		if overwrite || !v.IsSet() {
			*v = deferred.Of(new(big.Int))
		}
	}
	if v7, ok := out.(*userop.StructV7); ok && paymasterGas {
		for _, v := range []*deferred.Value[*big.Int]{&v7.PaymasterVerificationGasLimit, &v7.PaymasterPostOpGasLimit} {
			if overwrite || !v.IsSet() {
				*v = deferred.Of(new(big.Int))
			}
		}
	}
	return out
}
