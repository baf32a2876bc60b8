// Package aa implements ERC-4337 smart contract accounts: counterfactual
// address resolution, deployment tracking, call encoding and ERC-6492
// signature wrapping.
package aa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/logger"
)

// ChainReader is the subset of *ethclient.Client an account reads from.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Call is one call the account executes.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// SmartContractAccount is an ERC-4337 account bound to one entry point.
type SmartContractAccount interface {
	Source() string
	GetEntryPoint() *entrypoint.Def
	GetAddress(ctx context.Context) (common.Address, error)

	// GetInitCode returns the init code to put on the next operation: empty
	// once the account is deployed.
	GetInitCode(ctx context.Context) ([]byte, error)
	// GetAccountInitCode always returns factory address followed by factory
	// call data.
	GetAccountInitCode(ctx context.Context) ([]byte, error)
	GetFactoryAddress(ctx context.Context) (common.Address, error)
	GetFactoryData(ctx context.Context) ([]byte, error)
	IsAccountDeployed(ctx context.Context) (bool, error)
	GetAccountNonce(ctx context.Context, nonceKey *big.Int) (*big.Int, error)
	GetImplementationAddress(ctx context.Context) (common.Address, error)

	GetDummySignature() []byte
	EncodeExecute(call Call) ([]byte, error)
	EncodeBatchExecute(calls []Call) ([]byte, error)
	EncodeUpgradeToAndCall(implementation common.Address, initData []byte) ([]byte, error)

	SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
	SignMessageWith6492(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedDataWith6492(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
}

type DeploymentState int

const (
	DeploymentUndefined DeploymentState = iota
	DeploymentNotDeployed
	DeploymentDeployed
)

func (s DeploymentState) String() string {
	switch s {
	case DeploymentDeployed:
		return "deployed"
	case DeploymentNotDeployed:
		return "not_deployed"
	}
	return "undefined"
}

// ERC-1967 implementation slot: bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1)
var implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// BaseParams wires an account implementation into Base. Optional encoders
// left nil make the matching capability fail with its dedicated error.
type BaseParams struct {
	Source         string
	Chain          ChainReader
	EntryPoint     *entrypoint.Def
	AccountAddress *common.Address
	AddressCache   *AddressCache
	Logger         logger.Logger

	AccountInitCode        func(ctx context.Context) ([]byte, error)
	DummySignature         []byte
	EncodeExecute          func(call Call) ([]byte, error)
	EncodeBatchExecute     func(calls []Call) ([]byte, error)
	EncodeUpgradeToAndCall func(implementation common.Address, initData []byte) ([]byte, error)
	SignUserOperationHash  func(ctx context.Context, hash common.Hash) ([]byte, error)
	SignMessage            func(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedData          func(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
}

// Base implements the account behaviour shared by every account type. It
// owns the deployment state and the address memo. Both are guarded by mu
// because the fields of one operation resolve concurrently; callers must
// still serialize sends from the same account while it is undeployed.
type Base struct {
	p      BaseParams
	logger logger.Logger

	mu          sync.Mutex
	address     *common.Address
	deployState DeploymentState
}

func NewBase(p BaseParams) (*Base, error) {
	if p.Chain == nil {
		return nil, aaerr.NewChainNotFoundError()
	}
	if p.EntryPoint == nil {
		return nil, aaerr.New(aaerr.CodeInvalidEntryPoint, "account has no entry point")
	}
	if p.AccountInitCode == nil || p.EncodeExecute == nil || p.SignUserOperationHash == nil {
		return nil, fmt.Errorf("account %s is missing a required implementation", p.Source)
	}
	b := &Base{p: p, logger: logger.For(p.Logger, "account")}
	if p.AccountAddress != nil {
		addr := *p.AccountAddress
		b.address = &addr
	}
	return b, nil
}

func (b *Base) Source() string                 { return b.p.Source }
func (b *Base) GetEntryPoint() *entrypoint.Def { return b.p.EntryPoint }

// DeploymentState returns the cached deployment state without a chain read.
func (b *Base) DeploymentState() DeploymentState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deployState
}

func (b *Base) GetAddress(ctx context.Context) (common.Address, error) {
	b.mu.Lock()
	if b.address != nil {
		addr := *b.address
		b.mu.Unlock()
		return addr, nil
	}
	b.mu.Unlock()

	initCode, err := b.p.AccountInitCode(ctx)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := GetCounterFactualAddress(ctx, b.p.Chain, b.p.EntryPoint, initCode, b.p.AddressCache)
	if err != nil {
		return common.Address{}, err
	}

	b.mu.Lock()
	b.address = &addr
	b.mu.Unlock()
	b.logger.Debug("resolved counterfactual address", "source", b.p.Source, "address", addr.Hex())
	return addr, nil
}

func (b *Base) GetAccountInitCode(ctx context.Context) ([]byte, error) {
	return b.p.AccountInitCode(ctx)
}

func (b *Base) GetInitCode(ctx context.Context) ([]byte, error) {
	if b.DeploymentState() == DeploymentDeployed {
		return []byte{}, nil
	}

	addr, err := b.GetAddress(ctx)
	if err != nil {
		return nil, err
	}
	code, err := b.p.Chain.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("get code at %s: %w", addr.Hex(), err)
	}

	b.mu.Lock()
	if len(code) > 0 {
		b.deployState = DeploymentDeployed
		b.mu.Unlock()
		return []byte{}, nil
	}
	if b.deployState != DeploymentDeployed {
		b.deployState = DeploymentNotDeployed
	}
	b.mu.Unlock()

	return b.p.AccountInitCode(ctx)
}

func (b *Base) IsAccountDeployed(ctx context.Context) (bool, error) {
	initCode, err := b.GetInitCode(ctx)
	if err != nil {
		return false, err
	}
	return len(initCode) == 0, nil
}

func (b *Base) GetFactoryAddress(ctx context.Context) (common.Address, error) {
	initCode, err := b.p.AccountInitCode(ctx)
	if err != nil {
		return common.Address{}, err
	}
	factory, _, err := ParseFactoryAddressFromAccountInitCode(initCode)
	return factory, err
}

func (b *Base) GetFactoryData(ctx context.Context) ([]byte, error) {
	initCode, err := b.p.AccountInitCode(ctx)
	if err != nil {
		return nil, err
	}
	_, data, err := ParseFactoryAddressFromAccountInitCode(initCode)
	return data, err
}

// GetAccountNonce returns zero for an undeployed account without querying
// the entry point.
func (b *Base) GetAccountNonce(ctx context.Context, nonceKey *big.Int) (*big.Int, error) {
	deployed, err := b.IsAccountDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return big.NewInt(0), nil
	}
	if nonceKey == nil {
		nonceKey = big.NewInt(0)
	}
	addr, err := b.GetAddress(ctx)
	if err != nil {
		return nil, err
	}
	data, err := entrypoint.ABI.Pack("getNonce", addr, nonceKey)
	if err != nil {
		return nil, err
	}
	out, err := b.p.Chain.CallContract(ctx, ethereum.CallMsg{To: &b.p.EntryPoint.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("entry point getNonce: %w", err)
	}
	values, err := entrypoint.ABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("decode getNonce: %w", err)
	}
	return values[0].(*big.Int), nil
}

func (b *Base) GetImplementationAddress(ctx context.Context) (common.Address, error) {
	addr, err := b.GetAddress(ctx)
	if err != nil {
		return common.Address{}, err
	}
	storage, err := b.p.Chain.StorageAt(ctx, addr, implementationSlot, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("read implementation slot: %w", err)
	}
	if len(storage) == 0 {
		return common.Address{}, aaerr.NewFailedToGetStorageSlotError(implementationSlot.Hex(), "Proxy Implementation Address")
	}
	return common.BytesToAddress(storage), nil
}

func (b *Base) GetDummySignature() []byte {
	return append([]byte{}, b.p.DummySignature...)
}

func (b *Base) EncodeExecute(call Call) ([]byte, error) {
	return b.p.EncodeExecute(call)
}

func (b *Base) EncodeBatchExecute(calls []Call) ([]byte, error) {
	if b.p.EncodeBatchExecute == nil {
		return nil, aaerr.NewBatchExecutionNotSupportedError(b.p.Source)
	}
	return b.p.EncodeBatchExecute(calls)
}

func (b *Base) EncodeUpgradeToAndCall(implementation common.Address, initData []byte) ([]byte, error) {
	if b.p.EncodeUpgradeToAndCall == nil {
		return nil, aaerr.NewUpgradesNotSupportedError(b.p.Source)
	}
	return b.p.EncodeUpgradeToAndCall(implementation, initData)
}

func (b *Base) SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	return b.p.SignUserOperationHash(ctx, hash)
}

func (b *Base) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if b.p.SignMessage == nil {
		return nil, aaerr.New(aaerr.CodeAccountRequiresOwner, fmt.Sprintf("%s cannot sign messages", b.p.Source))
	}
	return b.p.SignMessage(ctx, msg)
}

func (b *Base) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	if b.p.SignTypedData == nil {
		return nil, aaerr.New(aaerr.CodeAccountRequiresOwner, fmt.Sprintf("%s cannot sign typed data", b.p.Source))
	}
	return b.p.SignTypedData(ctx, typedData)
}

func (b *Base) SignMessageWith6492(ctx context.Context, msg []byte) ([]byte, error) {
	sig, err := b.SignMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	return b.wrapWith6492(ctx, sig)
}

func (b *Base) SignTypedDataWith6492(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	sig, err := b.SignTypedData(ctx, typedData)
	if err != nil {
		return nil, err
	}
	return b.wrapWith6492(ctx, sig)
}

func (b *Base) wrapWith6492(ctx context.Context, sig []byte) ([]byte, error) {
	deployed, err := b.IsAccountDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if deployed {
		return sig, nil
	}
	initCode, err := b.p.AccountInitCode(ctx)
	if err != nil {
		return nil, err
	}
	factory, factoryData, err := ParseFactoryAddressFromAccountInitCode(initCode)
	if err != nil {
		return nil, err
	}
	return WrapSignatureWith6492(factory, factoryData, sig)
}

// ParseFactoryAddressFromAccountInitCode splits init code into the 20 byte
// factory address and the factory call data.
func ParseFactoryAddressFromAccountInitCode(initCode []byte) (common.Address, []byte, error) {
	if len(initCode) < common.AddressLength {
		return common.Address{}, nil, fmt.Errorf("init code too short: %d bytes", len(initCode))
	}
	return common.BytesToAddress(initCode[:common.AddressLength]), append([]byte{}, initCode[common.AddressLength:]...), nil
}

// GetCounterFactualAddress asks the entry point for the address initCode
// deploys to. getSenderAddress always reverts, carrying the answer in a
// SenderAddressResult error.
func GetCounterFactualAddress(ctx context.Context, chain ChainReader, ep *entrypoint.Def, initCode []byte, cache *AddressCache) (common.Address, error) {
	if cached, ok := cache.Get(ep, initCode); ok {
		return cached, nil
	}

	data, err := entrypoint.ABI.Pack("getSenderAddress", initCode)
	if err != nil {
		return common.Address{}, aaerr.NewGetCounterFactualAddressError(err)
	}
	_, err = chain.CallContract(ctx, ethereum.CallMsg{To: &ep.Address, Data: data}, nil)
	if err == nil {
		return common.Address{}, aaerr.NewGetCounterFactualAddressError(errors.New("getSenderAddress did not revert"))
	}

	if urlErr, ok := invalidRPCURL(err); ok {
		return common.Address{}, aaerr.NewInvalidRpcUrlError(urlErr.URL, err)
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if addr, ok := decodeSenderAddressResult(dataErr.ErrorData()); ok {
			cache.Set(ep, initCode, addr)
			return addr, nil
		}
	}
	return common.Address{}, aaerr.NewGetCounterFactualAddressError(err)
}

func decodeSenderAddressResult(errData interface{}) (common.Address, bool) {
	var raw []byte
	switch v := errData.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return common.Address{}, false
		}
		raw = b
	case []byte:
		raw = v
	default:
		return common.Address{}, false
	}

	abiErr := entrypoint.ABI.Errors["SenderAddressResult"]
	if len(raw) < 4 || !bytes.Equal(raw[:4], abiErr.ID[:4]) {
		return common.Address{}, false
	}
	values, err := abiErr.Inputs.Unpack(raw[4:])
	if err != nil || len(values) != 1 {
		return common.Address{}, false
	}
	addr, ok := values[0].(common.Address)
	return addr, ok
}

// invalidRPCURL reports whether err was caused by a node URL that cannot be
// used at all: it does not parse, has no host or names an unsupported scheme.
// Dial, DNS and timeout failures of a well formed URL are not matched.
func invalidRPCURL(err error) (*url.Error, bool) {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return nil, false
	}
	if urlErr.Op == "parse" {
		return urlErr, true
	}
	var parseErr *url.Error
	if errors.As(urlErr.Err, &parseErr) && parseErr.Op == "parse" {
		return urlErr, true
	}
	msg := urlErr.Err.Error()
	if strings.Contains(msg, "unsupported protocol scheme") || strings.Contains(msg, "no Host in request URL") {
		return urlErr, true
	}
	return nil, false
}
