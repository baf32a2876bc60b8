package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ap-aa/core/chainio/signer"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/pkg/logger"
)

const SimpleAccountSource = "SimpleAccount"

var defaultSalt = big.NewInt(0)

type SimpleAccountParams struct {
	Chain          ChainReader
	EntryPoint     *entrypoint.Def
	Owner          signer.SmartAccountSigner
	FactoryAddress *common.Address
	// Salt selects one of the accounts the factory can deploy for the owner.
	Salt           *big.Int
	AccountAddress *common.Address
	AddressCache   *AddressCache
	Logger         logger.Logger
}

// SimpleAccount is the eth-infinitism SimpleAccount behind an ERC-1967 proxy,
// deployed by SimpleAccountFactory.createAccount(owner, salt).
type SimpleAccount struct {
	*Base
	owner   signer.SmartAccountSigner
	factory common.Address
	salt    *big.Int
}

func NewSimpleAccount(p SimpleAccountParams) (*SimpleAccount, error) {
	if p.Owner == nil {
		return nil, aaerr.NewAccountRequiresOwnerError(SimpleAccountSource)
	}
	if p.EntryPoint == nil {
		return nil, aaerr.New(aaerr.CodeInvalidEntryPoint, "SimpleAccount needs an entry point")
	}
	factory, ok := DefaultSimpleAccountFactoryAddress(p.EntryPoint.Version)
	if p.FactoryAddress != nil {
		factory, ok = *p.FactoryAddress, true
	}
	if !ok {
		return nil, aaerr.NewInvalidEntryPointError(p.EntryPoint.ChainID.Uint64(), string(p.EntryPoint.Version))
	}
	salt := defaultSalt
	if p.Salt != nil {
		salt = p.Salt
	}

	a := &SimpleAccount{owner: p.Owner, factory: factory, salt: new(big.Int).Set(salt)}
	batch := a.encodeBatchV6
	if p.EntryPoint.Version == userop.V07 {
		batch = a.encodeBatchV7
	}
	base, err := NewBase(BaseParams{
		Source:                 SimpleAccountSource,
		Chain:                  p.Chain,
		EntryPoint:             p.EntryPoint,
		AccountAddress:         p.AccountAddress,
		AddressCache:           p.AddressCache,
		Logger:                 p.Logger,
		AccountInitCode:        a.accountInitCode,
		DummySignature:         simpleAccountDummySignature,
		EncodeExecute:          a.encodeExecute,
		EncodeBatchExecute:     batch,
		EncodeUpgradeToAndCall: a.encodeUpgradeToAndCall,
		SignUserOperationHash: func(ctx context.Context, hash common.Hash) ([]byte, error) {
			return p.Owner.SignMessage(ctx, hash.Bytes())
		},
		SignMessage:   p.Owner.SignMessage,
		SignTypedData: p.Owner.SignTypedData,
	})
	if err != nil {
		return nil, err
	}
	a.Base = base
	return a, nil
}

func (a *SimpleAccount) Owner() signer.SmartAccountSigner { return a.owner }

// GetInitCode returns factory address || createAccount(owner, salt) for the
// given owner, independent of any account instance.
func GetInitCode(factory, owner common.Address, salt *big.Int) ([]byte, error) {
	if salt == nil {
		salt = defaultSalt
	}
	calldata, err := simpleFactoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return nil, err
	}
	return append(factory.Bytes(), calldata...), nil
}

func (a *SimpleAccount) accountInitCode(ctx context.Context) ([]byte, error) {
	owner, err := a.owner.GetAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("get owner address: %w", err)
	}
	return GetInitCode(a.factory, owner, a.salt)
}

// PackExecute encodes SimpleAccount.execute(dest, value, func).
func PackExecute(targetAddress common.Address, ethValue *big.Int, calldata []byte) ([]byte, error) {
	if ethValue == nil {
		ethValue = big.NewInt(0)
	}
	if calldata == nil {
		calldata = []byte{}
	}
	return simpleAccountABI.Pack("execute", targetAddress, ethValue, calldata)
}

func (a *SimpleAccount) encodeExecute(call Call) ([]byte, error) {
	return PackExecute(call.Target, call.Value, call.Data)
}

func callParts(calls []Call) ([]common.Address, []*big.Int, [][]byte) {
	targets := lo.Map(calls, func(c Call, _ int) common.Address { return c.Target })
	values := lo.Map(calls, func(c Call, _ int) *big.Int {
		if c.Value == nil {
			return big.NewInt(0)
		}
		return c.Value
	})
	data := lo.Map(calls, func(c Call, _ int) []byte {
		if c.Data == nil {
			return []byte{}
		}
		return c.Data
	})
	return targets, values, data
}

// The v0.6 executeBatch has no value argument, so value transfers in a batch
// are rejected rather than silently dropped.
func (a *SimpleAccount) encodeBatchV6(calls []Call) ([]byte, error) {
	targets, values, data := callParts(calls)
	if lo.SomeBy(values, func(v *big.Int) bool { return v.Sign() != 0 }) {
		return nil, aaerr.New(aaerr.CodeBatchExecutionNotSupported,
			"SimpleAccount v0.6 cannot send value in a batch",
			map[string]interface{}{"accountType": SimpleAccountSource})
	}
	return simpleAccountABI.Pack("executeBatch", targets, data)
}

func (a *SimpleAccount) encodeBatchV7(calls []Call) ([]byte, error) {
	targets, values, data := callParts(calls)
	return simpleAccountV7BatchABI.Pack("executeBatch", targets, values, data)
}

func (a *SimpleAccount) encodeUpgradeToAndCall(implementation common.Address, initData []byte) ([]byte, error) {
	if initData == nil {
		initData = []byte{}
	}
	return simpleAccountABI.Pack("upgradeToAndCall", implementation, initData)
}
