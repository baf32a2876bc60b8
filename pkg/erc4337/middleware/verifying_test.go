package middleware

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-aa/core/chainio/signer"
	"github.com/AvaProtocol/ap-aa/core/testutil"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

// hashCaller answers VerifyingPaymaster.getHash with a fixed hash.
type hashCaller struct {
	hash  [32]byte
	err   error
	calls []ethereum.CallMsg
}

func (h *hashCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	h.calls = append(h.calls, call)
	if h.err != nil {
		return nil, h.err
	}
	return verifyingPaymasterABI.Methods["getHash"].Outputs.Pack(h.hash)
}

var testPaymaster = common.HexToAddress("0xB985af5f96EF2722DC99aEBA573520903B86505e")

func newVerifyingPaymaster(caller ethereum.ContractCaller) *VerifyingPaymasterMiddleware {
	m := NewVerifyingPaymasterMiddleware(caller, testPaymaster, testutil.OwnerPrivateKey(), 15*time.Minute)
	m.request = func(addr common.Address, _ time.Duration) *VerifyingPaymasterRequest {
		return &VerifyingPaymasterRequest{
			PaymasterAddress: addr,
			ValidUntil:       big.NewInt(1700000900),
			ValidAfter:       big.NewInt(1700000000),
		}
	}
	return m
}

func TestVerifyingPaymasterDummyData(t *testing.T) {
	m := newVerifyingPaymaster(&hashCaller{})

	req := runStage(t, m.DummyPaymasterAndData, baseV6(), Params{})
	pnd := []byte(*req.(*userop.RequestV6).PaymasterAndData)
	require.Len(t, pnd, 149)
	assert.Equal(t, testPaymaster.Bytes(), pnd[:20])
	assert.Equal(t, dummyPaymasterSignature, pnd[84:])

	_, err := m.DummyPaymasterAndData(context.Background(), baseV7(), Params{})
	assert.ErrorIs(t, err, aaerr.ErrMismatchingEntryPoint)
}

func TestVerifyingPaymasterSignsHash(t *testing.T) {
	caller := &hashCaller{hash: crypto.Keccak256Hash([]byte("user operation"))}
	m := newVerifyingPaymaster(caller)

	req := runStage(t, m.PaymasterAndData, baseV6(), Params{})
	pnd := []byte(*req.(*userop.RequestV6).PaymasterAndData)
	require.Len(t, pnd, 149)
	assert.Equal(t, testPaymaster.Bytes(), pnd[:20])
	assert.Equal(t, common.LeftPadBytes(big.NewInt(1700000900).Bytes(), 32), pnd[20:52])
	assert.Equal(t, common.LeftPadBytes(big.NewInt(1700000000).Bytes(), 32), pnd[52:84])

	recovered, err := signer.RecoverMessageSigner(caller.hash[:], pnd[84:])
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerAddress(), recovered)

	require.Len(t, caller.calls, 1)
	call := caller.calls[0]
	assert.Equal(t, testPaymaster, *call.To)
	method := verifyingPaymasterABI.Methods["getHash"]
	assert.Equal(t, method.ID, call.Data[:4])
	args, err := method.Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1700000900), args[1])
	assert.Equal(t, big.NewInt(1700000000), args[2])
}

func TestVerifyingPaymasterCallFailure(t *testing.T) {
	m := newVerifyingPaymaster(&hashCaller{err: errors.New("execution reverted")})

	_, err := m.PaymasterAndData(context.Background(), baseV6(), Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get paymaster hash")
}
