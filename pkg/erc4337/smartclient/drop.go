package smartclient

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/middleware"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

// Replacement fees must beat the dropped operation by at least this share.
const replacementFeePercent = 110

type DropAndReplaceParams struct {
	Account aa.SmartContractAccount
	// UserOperationToDrop is the signed request that is still pending.
	UserOperationToDrop userop.Request
	Overrides           *userop.Overrides
	Context             map[string]interface{}
}

// DropAndReplace resubmits a pending operation with the same sender, nonce
// and call data and fees high enough for the bundler to replace it. Each fee
// is max(fresh estimate, 110% of the original, rounded up). The original
// paymaster fields are kept unless p.Overrides carries its own.
func (c *SmartAccountClient) DropAndReplace(ctx context.Context, p DropAndReplaceParams) (*SendUserOperationResult, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return nil, err
	}
	drop := p.UserOperationToDrop
	if drop == nil {
		return nil, aaerr.NewInvalidUserOperationError("no user operation to drop", nil)
	}
	ep := account.GetEntryPoint()
	if drop.Version() != ep.Version {
		return nil, aaerr.NewMismatchingEntryPointError(string(ep.Version))
	}

	s := replacementStruct(drop, account.GetDummySignature())
	overrides := p.Overrides.Clone()

	fresh, err := c.freshFees(ctx, s, account, overrides)
	if err != nil {
		return nil, fmt.Errorf("estimate replacement fees: %w", err)
	}
	maxFee := userop.BigIntMax(fresh.GetMaxFeePerGas(), bumpFee(drop.GetMaxFeePerGas()))
	tip := userop.BigIntMax(fresh.GetMaxPriorityFeePerGas(), bumpFee(drop.GetMaxPriorityFeePerGas()))
	if maxFee == nil || tip == nil {
		return nil, aaerr.NewInvalidUserOperationError("replacement fees could not be determined", nil)
	}
	overrides.MaxFeePerGas = userop.Absolute(maxFee)
	overrides.MaxPriorityFeePerGas = userop.Absolute(tip)
	if !overrides.BypassPaymaster() {
		carryPaymaster(drop, overrides)
	}

	sent, err := c.runMiddleware(ctx, s, account, overrides, p.Context)
	if err != nil {
		return nil, err
	}
	res, err := c.sendStruct(ctx, sent, account)
	if err != nil {
		return nil, err
	}
	c.metrics.IncDropAndReplace()

	if dropped, err := ep.GetUserOperationHash(drop); err == nil {
		c.logger.Info("user operation replaced", "dropped", dropped.Hex(), "replacement", res.Hash.Hex(),
			"maxFeePerGas", maxFee, "maxPriorityFeePerGas", tip)
		if c.history != nil {
			if err := c.history.MarkReplaced(ctx, dropped, res.Hash); err != nil {
				c.logger.Debug("dropped operation is not in history", "hash", dropped.Hex(), "error", err)
			}
		}
	}
	return res, nil
}

func bumpFee(fee *big.Int) *big.Int {
	if fee == nil {
		return nil
	}
	return userop.BigIntPercent(fee, replacementFeePercent, userop.RoundUp)
}

// replacementStruct keeps what identifies the dropped operation: sender,
// nonce, call data and init code or factory fields.
func replacementStruct(drop userop.Request, dummySignature []byte) userop.Struct {
	switch r := drop.(type) {
	case *userop.RequestV6:
		s := &userop.StructV6{}
		setIdentity(&s.Common, r.Sender, r.Nonce, r.CallData, dummySignature)
		s.InitCode = deferred.Of(cloneBytes(r.InitCode))
		return s
	case *userop.RequestV7:
		s := &userop.StructV7{}
		setIdentity(&s.Common, r.Sender, r.Nonce, r.CallData, dummySignature)
		if r.Factory != nil && r.FactoryData != nil {
			s.Factory = deferred.Of(*r.Factory)
			s.FactoryData = deferred.Of(cloneBytes(r.FactoryData))
		}
		return s
	}
	return nil
}

func setIdentity(f *userop.Common, sender common.Address, nonce *hexutil.Big, callData hexutil.Bytes, sig []byte) {
	f.Sender = deferred.Of(sender)
	f.Nonce = deferred.Of(new(big.Int).Set(nonce.ToInt()))
	f.CallData = deferred.Of(bytes.Clone([]byte(callData)))
	f.Signature = deferred.Of(sig)
}

func cloneBytes(b *hexutil.Bytes) []byte {
	if b == nil {
		return []byte{}
	}
	return bytes.Clone([]byte(*b))
}

// freshFees runs only the fee estimator stage over s.
func (c *SmartAccountClient) freshFees(ctx context.Context, s userop.Struct, account aa.SmartContractAccount, overrides *userop.Overrides) (userop.Request, error) {
	feeOnly := overrides.Clone()
	feeOnly.MaxFeePerGas, feeOnly.MaxPriorityFeePerGas = nil, nil
	feeOptions := c.feeOptions
	if feeOptions == nil {
		feeOptions = &userop.FeeOptions{}
	}
	estimate := c.middleware.Stage(middleware.StageFeeEstimator, feeOnly)
	out, err := estimate(ctx, s, middleware.Params{Account: account, Overrides: feeOnly, FeeOptions: feeOptions})
	if err != nil {
		return nil, err
	}
	return out.Resolve(ctx)
}

// carryPaymaster turns the dropped operation's paymaster fields into
// overrides. An unsponsored original becomes an explicit empty override so
// the replacement stays unsponsored too.
func carryPaymaster(drop userop.Request, o *userop.Overrides) {
	switch r := drop.(type) {
	case *userop.RequestV6:
		pnd := hexutil.Bytes(cloneBytes(r.PaymasterAndData))
		o.PaymasterAndData = &pnd
	case *userop.RequestV7:
		if r.Paymaster == nil {
			o.PaymasterData = userop.Bytes([]byte{})
			return
		}
		pm := *r.Paymaster
		o.Paymaster = &pm
		o.PaymasterData = userop.Bytes(cloneBytes(r.PaymasterData))
		if r.PaymasterVerificationGasLimit != nil {
			o.PaymasterVerificationGasLimit = userop.Absolute(new(big.Int).Set(r.PaymasterVerificationGasLimit.ToInt()))
		}
		if r.PaymasterPostOpGasLimit != nil {
			o.PaymasterPostOpGasLimit = userop.Absolute(new(big.Int).Set(r.PaymasterPostOpGasLimit.ToInt()))
		}
	}
}
