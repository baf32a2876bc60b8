package aa

import (
	"context"
	"errors"
	"math/big"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-aa/core/chainio/signer"
	"github.com/AvaProtocol/ap-aa/core/testutil"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

func newTestAccount(t *testing.T, chain ChainReader, version userop.Version, cache *AddressCache) *SimpleAccount {
	t.Helper()
	ep, err := entrypoint.GetEntryPoint(testutil.GetTestChainID(), version)
	require.NoError(t, err)
	acct, err := NewSimpleAccount(SimpleAccountParams{
		Chain:        chain,
		EntryPoint:   ep,
		Owner:        signer.NewLocalAccountSigner(testutil.OwnerPrivateKey()),
		AddressCache: cache,
		Logger:       testutil.GetLogger(),
	})
	require.NoError(t, err)
	return acct
}

func TestGetAddressFromEntryPointRevert(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	acct := newTestAccount(t, chain, userop.V06, nil)

	initCode, err := GetInitCode(defaultSimpleFactoryAddresses[userop.V06], testutil.OwnerAddress(), nil)
	require.NoError(t, err)

	addr, err := acct.GetAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.CounterfactualAddress(initCode), addr)

	again, err := acct.GetAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.EqualValues(t, 1, chain.SenderCalls.Load(), "address should be memoised")
}

func TestGetAddressUsesExplicitAddress(t *testing.T) {
	chain := testutil.NewFakeChain()
	ep, err := entrypoint.GetEntryPoint(testutil.GetTestChainID(), userop.V06)
	require.NoError(t, err)
	explicit := common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6")

	acct, err := NewSimpleAccount(SimpleAccountParams{
		Chain:          chain,
		EntryPoint:     ep,
		Owner:          signer.NewLocalAccountSigner(testutil.OwnerPrivateKey()),
		AccountAddress: &explicit,
	})
	require.NoError(t, err)

	addr, err := acct.GetAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, explicit, addr)
	assert.EqualValues(t, 0, chain.CallContractCalls.Load())
}

func TestAddressCacheSharedBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	cache, err := NewAddressCache(ctx, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	chain := testutil.NewFakeChain()
	first, err := newTestAccount(t, chain, userop.V07, cache).GetAddress(ctx)
	require.NoError(t, err)
	second, err := newTestAccount(t, chain, userop.V07, cache).GetAddress(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, chain.SenderCalls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestGetAddressErrors(t *testing.T) {
	ctx := context.Background()

	chain := testutil.NewFakeChain()
	chain.CallErr = &url.Error{Op: "Post", URL: "ftp://localhost:1", Err: errors.New(`unsupported protocol scheme "ftp"`)}
	_, err := newTestAccount(t, chain, userop.V06, nil).GetAddress(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, aaerr.ErrInvalidRpcUrl))
	assert.Equal(t, aaerr.KindNetwork, aaerr.KindOf(err))

	chain = testutil.NewFakeChain()
	chain.CallErr = &url.Error{Op: "parse", URL: "http://[::1", Err: errors.New("missing ']' in host")}
	_, err = newTestAccount(t, chain, userop.V06, nil).GetAddress(ctx)
	assert.True(t, errors.Is(err, aaerr.ErrInvalidRpcUrl))

	chain = testutil.NewFakeChain()
	chain.CallErr = &url.Error{Op: "Post", URL: "http://127.0.0.1:1", Err: &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: syscall.ECONNREFUSED,
	}}
	_, err = newTestAccount(t, chain, userop.V06, nil).GetAddress(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, aaerr.ErrGetCounterFactualAddress))
	assert.False(t, errors.Is(err, aaerr.ErrInvalidRpcUrl))
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)

	chain = testutil.NewFakeChain()
	chain.CallErr = errors.New("execution reverted: AA13 initCode failed")
	_, err = newTestAccount(t, chain, userop.V06, nil).GetAddress(ctx)
	assert.True(t, errors.Is(err, aaerr.ErrGetCounterFactualAddress))
}

func TestDeploymentStateIsSticky(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	acct := newTestAccount(t, chain, userop.V06, nil)
	addr, err := acct.GetAddress(ctx)
	require.NoError(t, err)

	deployed, err := acct.IsAccountDeployed(ctx)
	require.NoError(t, err)
	assert.False(t, deployed)
	assert.Equal(t, DeploymentNotDeployed, acct.DeploymentState())

	initCode, err := acct.GetInitCode(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, initCode)
	assert.EqualValues(t, 2, chain.CodeAtCalls.Load(), "not deployed is checked again")

	chain.Deploy(addr)
	deployed, err = acct.IsAccountDeployed(ctx)
	require.NoError(t, err)
	assert.True(t, deployed)

	for i := 0; i < 3; i++ {
		initCode, err = acct.GetInitCode(ctx)
		require.NoError(t, err)
		assert.Empty(t, initCode)
	}
	assert.EqualValues(t, 3, chain.CodeAtCalls.Load(), "deployed is never checked again")
}

func TestGetAccountNonce(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	acct := newTestAccount(t, chain, userop.V06, nil)

	nonce, err := acct.GetAccountNonce(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), nonce.Int64())
	assert.EqualValues(t, 0, chain.NonceCalls.Load())

	addr, err := acct.GetAddress(ctx)
	require.NoError(t, err)
	chain.Deploy(addr)
	chain.SetNonce(addr, big.NewInt(7))

	nonce, err = acct.GetAccountNonce(ctx, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, int64(7), nonce.Int64())
	assert.EqualValues(t, 1, chain.NonceCalls.Load())
}

func TestFactoryAddressAndData(t *testing.T) {
	ctx := context.Background()
	acct := newTestAccount(t, testutil.NewFakeChain(), userop.V07, nil)

	factory, err := acct.GetFactoryAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSimpleFactoryAddresses[userop.V07], factory)

	data, err := acct.GetFactoryData(ctx)
	require.NoError(t, err)
	initCode, err := acct.GetAccountInitCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, initCode[20:], data)

	_, _, err = ParseFactoryAddressFromAccountInitCode([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestSignMessageWith6492(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	acct := newTestAccount(t, chain, userop.V06, nil)
	msg := []byte("hello world")

	wrapped, err := acct.SignMessageWith6492(ctx, msg)
	require.NoError(t, err)
	require.True(t, IsSignature6492(wrapped))

	factory, factoryData, inner, err := UnwrapSignature6492(wrapped)
	require.NoError(t, err)
	expectedFactory, err := acct.GetFactoryAddress(ctx)
	require.NoError(t, err)
	expectedData, err := acct.GetFactoryData(ctx)
	require.NoError(t, err)
	assert.Equal(t, expectedFactory, factory)
	assert.Equal(t, expectedData, factoryData)

	signerAddr, err := signer.RecoverMessageSigner(msg, inner)
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerAddress(), signerAddr)

	addr, err := acct.GetAddress(ctx)
	require.NoError(t, err)
	chain.Deploy(addr)

	raw, err := acct.SignMessageWith6492(ctx, msg)
	require.NoError(t, err)
	assert.False(t, IsSignature6492(raw))
	assert.Equal(t, inner, raw)
}

func TestGetImplementationAddress(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	acct := newTestAccount(t, chain, userop.V06, nil)

	_, err := acct.GetImplementationAddress(ctx)
	assert.True(t, errors.Is(err, aaerr.ErrFailedToGetStorageSlot))

	addr, err := acct.GetAddress(ctx)
	require.NoError(t, err)
	impl := common.HexToAddress("0x8ABB13360b87Be5EEb1B98647A016adD927a136c")
	chain.SetStorage(addr, implementationSlot, common.LeftPadBytes(impl.Bytes(), 32))

	got, err := acct.GetImplementationAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, impl, got)
}

func TestEncodeBatchExecute(t *testing.T) {
	acct := newTestAccount(t, testutil.NewFakeChain(), userop.V06, nil)

	data, err := acct.EncodeBatchExecute([]Call{
		{Target: common.HexToAddress("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"), Data: common.FromHex("0xdeadbeef")},
		{Target: common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72"), Data: common.FromHex("0xcafebabe")},
	})
	require.NoError(t, err)
	assert.Equal(t, "0x18dfb3c7000000000000000000000000000000000000000000000000000000000000004000000000000000000000000000000000000000000000000000000000000000a00000000000000000000000000000000000000000000000000000000000000002000000000000000000000000deadbeefdeadbeefdeadbeefdeadbeefdeadbeef0000000000000000000000008ba1f109551bd432803012645ac136ddd64dba720000000000000000000000000000000000000000000000000000000000000002000000000000000000000000000000000000000000000000000000000000004000000000000000000000000000000000000000000000000000000000000000800000000000000000000000000000000000000000000000000000000000000004deadbeef000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000004cafebabe00000000000000000000000000000000000000000000000000000000",
		hexutil.Encode(data))

	_, err = acct.EncodeBatchExecute([]Call{{Target: common.HexToAddress("0x01"), Value: big.NewInt(1)}})
	assert.True(t, errors.Is(err, aaerr.ErrBatchExecutionNotSupported))

	v7 := newTestAccount(t, testutil.NewFakeChain(), userop.V07, nil)
	data, err = v7.EncodeBatchExecute([]Call{{Target: common.HexToAddress("0x01"), Value: big.NewInt(1)}})
	require.NoError(t, err)
	assert.Equal(t, simpleAccountV7BatchABI.Methods["executeBatch"].ID, data[:4])
}

func TestMissingCapabilities(t *testing.T) {
	ep, err := entrypoint.GetEntryPoint(testutil.GetTestChainID(), userop.V06)
	require.NoError(t, err)
	base, err := NewBase(BaseParams{
		Source:          "Minimal",
		Chain:           testutil.NewFakeChain(),
		EntryPoint:      ep,
		AccountInitCode: func(context.Context) ([]byte, error) { return make([]byte, 24), nil },
		EncodeExecute:   func(Call) ([]byte, error) { return nil, nil },
		SignUserOperationHash: func(context.Context, common.Hash) ([]byte, error) {
			return nil, nil
		},
	})
	require.NoError(t, err)

	_, err = base.EncodeBatchExecute(nil)
	assert.True(t, errors.Is(err, aaerr.ErrBatchExecutionNotSupported))
	_, err = base.EncodeUpgradeToAndCall(common.Address{}, nil)
	assert.True(t, errors.Is(err, aaerr.ErrUpgradesNotSupported))
	assert.Equal(t, aaerr.KindCapability, aaerr.KindOf(err))
}

func TestNewSimpleAccountRequiresOwner(t *testing.T) {
	ep, err := entrypoint.GetEntryPoint(testutil.GetTestChainID(), userop.V06)
	require.NoError(t, err)
	_, err = NewSimpleAccount(SimpleAccountParams{Chain: testutil.NewFakeChain(), EntryPoint: ep})
	assert.True(t, errors.Is(err, aaerr.ErrAccountRequiresOwner))

	_, err = NewSimpleAccount(SimpleAccountParams{EntryPoint: ep, Owner: signer.NewLocalAccountSigner(testutil.OwnerPrivateKey())})
	assert.True(t, errors.Is(err, aaerr.ErrChainNotFound))
}
