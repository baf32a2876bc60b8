package smartclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

// UserOperationParams describe the calls of one operation. A single call is
// encoded with the account's execute, several with its batch execute.
// CallData, when set, is used verbatim instead of Calls.
type UserOperationParams struct {
	Account   aa.SmartContractAccount
	Calls     []aa.Call
	CallData  []byte
	Overrides *userop.Overrides
	// Context is forwarded to paymaster services.
	Context map[string]interface{}
}

// BuildFromTxsResult is the operation built from a list of transactions
// together with the batch and fee overrides derived from them.
type BuildFromTxsResult struct {
	Struct    userop.Struct
	Calls     []aa.Call
	Overrides *userop.Overrides
}

// BuildUserOperation assembles the initial struct from the account and runs
// the middleware over it. The result is unsigned.
func (c *SmartAccountClient) BuildUserOperation(ctx context.Context, p UserOperationParams) (userop.Struct, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return nil, err
	}
	callData, err := encodeCalls(account, p.Calls, p.CallData, len(p.Calls) > 1)
	if err != nil {
		return nil, err
	}
	return c.buildUserOperation(ctx, account, callData, p.Overrides, p.Context)
}

func encodeCalls(account aa.SmartContractAccount, calls []aa.Call, raw []byte, batch bool) ([]byte, error) {
	switch {
	case raw != nil:
		return raw, nil
	case len(calls) == 0:
		return nil, fmt.Errorf("user operation has no calls")
	case batch:
		return account.EncodeBatchExecute(calls)
	default:
		return account.EncodeExecute(calls[0])
	}
}

func (c *SmartAccountClient) buildUserOperation(ctx context.Context, account aa.SmartContractAccount, callData []byte, overrides *userop.Overrides, pmContext map[string]interface{}) (userop.Struct, error) {
	overrides = overrides.Clone()
	s, err := c.initialStruct(ctx, account, callData, overrides)
	if err != nil {
		return nil, err
	}
	return c.runMiddleware(ctx, s, account, overrides, pmContext)
}

// initialStruct sets sender, nonce, call data, init code and the dummy
// signature. Sender, nonce and the v0.6 init code stay pending so they
// resolve concurrently with the rest of the struct.
func (c *SmartAccountClient) initialStruct(ctx context.Context, account aa.SmartContractAccount, callData []byte, overrides *userop.Overrides) (userop.Struct, error) {
	ep := account.GetEntryPoint()
	s := ep.NewStruct()
	if s == nil {
		return nil, aaerr.New(aaerr.CodeInvalidEntryPoint, fmt.Sprintf("unsupported entry point version %s", ep.Version))
	}

	f := s.Fields()
	f.Sender = deferred.Func(account.GetAddress)
	if overrides.Nonce != nil {
		f.Nonce = deferred.Of(new(big.Int).Set(overrides.Nonce))
	} else {
		nonceKey := overrides.NonceKey
		f.Nonce = deferred.Func(func(ctx context.Context) (*big.Int, error) {
			return account.GetAccountNonce(ctx, nonceKey)
		})
	}
	f.CallData = deferred.Of(callData)
	f.Signature = deferred.Of(account.GetDummySignature())

	switch st := s.(type) {
	case *userop.StructV6:
		st.InitCode = deferred.Func(account.GetInitCode)
	case *userop.StructV7:
		// factory and factoryData must be absent once deployed, which a
		// pending value cannot express, so the deployment check runs now
		initCode, err := account.GetInitCode(ctx)
		if err != nil {
			return nil, err
		}
		if len(initCode) > 0 {
			factory, factoryData, err := aa.ParseFactoryAddressFromAccountInitCode(initCode)
			if err != nil {
				return nil, err
			}
			st.Factory = deferred.Of(factory)
			st.FactoryData = deferred.Of(factoryData)
		}
	}
	return s, nil
}

// BuildUserOperationFromTx turns one transaction request into an unsigned
// operation. The request's fee caps become fee overrides.
func (c *SmartAccountClient) BuildUserOperationFromTx(ctx context.Context, tx ethereum.CallMsg, p UserOperationParams) (userop.Struct, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return nil, err
	}
	if tx.To == nil {
		return nil, aaerr.NewTransactionMissingToParamError()
	}

	overrides := p.Overrides.Clone()
	if tx.GasFeeCap != nil {
		overrides.MaxFeePerGas = userop.Absolute(tx.GasFeeCap)
	}
	if tx.GasTipCap != nil {
		overrides.MaxPriorityFeePerGas = userop.Absolute(tx.GasTipCap)
	}

	callData, err := account.EncodeExecute(txCall(tx))
	if err != nil {
		return nil, err
	}
	return c.buildUserOperation(ctx, account, callData, overrides, p.Context)
}

// BuildUserOperationFromTxs batches several transaction requests into one
// operation. Fee overrides in p win; otherwise the highest fee cap of the
// requests is used.
func (c *SmartAccountClient) BuildUserOperationFromTxs(ctx context.Context, txs []ethereum.CallMsg, p UserOperationParams) (*BuildFromTxsResult, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.To == nil {
			return nil, aaerr.NewTransactionMissingToParamError()
		}
	}
	calls := lo.Map(txs, func(tx ethereum.CallMsg, _ int) aa.Call { return txCall(tx) })

	overrides := p.Overrides.Clone()
	if overrides.MaxFeePerGas == nil {
		overrides.MaxFeePerGas = maxOfTxs(txs, func(tx ethereum.CallMsg) *big.Int { return tx.GasFeeCap })
	}
	if overrides.MaxPriorityFeePerGas == nil {
		overrides.MaxPriorityFeePerGas = maxOfTxs(txs, func(tx ethereum.CallMsg) *big.Int { return tx.GasTipCap })
	}

	callData, err := account.EncodeBatchExecute(calls)
	if err != nil {
		return nil, err
	}
	s, err := c.buildUserOperation(ctx, account, callData, overrides, p.Context)
	if err != nil {
		return nil, err
	}
	return &BuildFromTxsResult{Struct: s, Calls: calls, Overrides: overrides}, nil
}

func txCall(tx ethereum.CallMsg) aa.Call {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	data := tx.Data
	if data == nil {
		data = []byte{}
	}
	return aa.Call{Target: *tx.To, Value: value, Data: data}
}

func maxOfTxs(txs []ethereum.CallMsg, field func(ethereum.CallMsg) *big.Int) *userop.Override {
	values := lo.FilterMap(txs, func(tx ethereum.CallMsg, _ int) (*big.Int, bool) {
		v := field(tx)
		return v, v != nil
	})
	if len(values) == 0 {
		return nil
	}
	return userop.Absolute(userop.BigIntMax(values...))
}

// CheckGasSponsorshipEligibility builds an operation and reports whether the
// paymaster stages sponsored it. Any failure reports false.
func (c *SmartAccountClient) CheckGasSponsorshipEligibility(ctx context.Context, p UserOperationParams) bool {
	s, err := c.BuildUserOperation(ctx, p)
	if err != nil {
		c.logger.Debug("sponsorship check failed to build", "error", err)
		return false
	}
	req, err := s.Resolve(ctx)
	if err != nil {
		c.logger.Debug("sponsorship check failed to resolve", "error", err)
		return false
	}
	return req.HasPaymaster()
}

// UpgradeParams upgrade the account proxy to Implementation, calling it with
// InitData in the same transaction.
type UpgradeParams struct {
	Account        aa.SmartContractAccount
	Implementation common.Address
	InitData       []byte
	Overrides      *userop.Overrides
	Context        map[string]interface{}
	// WaitForTx makes UpgradeAccount return the mined transaction hash
	// instead of the operation hash.
	WaitForTx bool
}

func (c *SmartAccountClient) UpgradeAccount(ctx context.Context, p UpgradeParams) (common.Hash, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return common.Hash{}, err
	}
	callData, err := account.EncodeUpgradeToAndCall(p.Implementation, p.InitData)
	if err != nil {
		return common.Hash{}, err
	}
	res, err := c.SendUserOperation(ctx, UserOperationParams{
		Account:   account,
		CallData:  callData,
		Overrides: p.Overrides,
		Context:   p.Context,
	})
	if err != nil {
		return common.Hash{}, err
	}
	if !p.WaitForTx {
		return res.Hash, nil
	}
	return c.WaitForUserOperationTransaction(ctx, res.Hash)
}
