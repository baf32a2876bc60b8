package middleware

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ap-aa/core/chainio/signer"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

// VerifyingPaymaster.getHash for entry point v0.6.
const verifyingPaymasterABIJSON = `[
	{"type":"function","name":"getHash","stateMutability":"view",
	 "inputs":[
		{"name":"userOp","type":"tuple","components":[
			{"name":"sender","type":"address"},
			{"name":"nonce","type":"uint256"},
			{"name":"initCode","type":"bytes"},
			{"name":"callData","type":"bytes"},
			{"name":"callGasLimit","type":"uint256"},
			{"name":"verificationGasLimit","type":"uint256"},
			{"name":"preVerificationGas","type":"uint256"},
			{"name":"maxFeePerGas","type":"uint256"},
			{"name":"maxPriorityFeePerGas","type":"uint256"},
			{"name":"paymasterAndData","type":"bytes"},
			{"name":"signature","type":"bytes"}]},
		{"name":"validUntil","type":"uint48"},
		{"name":"validAfter","type":"uint48"}],
	 "outputs":[{"name":"","type":"bytes32"}]}
]`

var (
	verifyingPaymasterABI = func() abi.ABI {
		parsed, err := abi.JSON(strings.NewReader(verifyingPaymasterABIJSON))
		if err != nil {
			panic(fmt.Errorf("invalid verifying paymaster ABI: %w", err))
		}
		return parsed
	}()

	validityArgs = abi.Arguments{
		{Type: abi.Type{T: abi.UintTy, Size: 48}}, // uint48
		{Type: abi.Type{T: abi.UintTy, Size: 48}}, // uint48
	}

	// Same length as a real ECDSA signature so verification gas is
	// estimated correctly.
	dummyPaymasterSignature = bytes.Repeat([]byte{0xff}, 65)
)

// paymasterUserOperation mirrors the v0.6 UserOperation tuple.
type paymasterUserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// VerifyingPaymasterRequest contains the parameters needed for paymaster functionality. This use the reference from https://github.com/eth-optimism/paymaster-reference
type VerifyingPaymasterRequest struct {
	PaymasterAddress common.Address
	ValidUntil       *big.Int
	ValidAfter       *big.Int
}

func GetVerifyingPaymasterRequestForDuration(address common.Address, duration time.Duration) *VerifyingPaymasterRequest {
	// Use a larger negative skew to tolerate clock drift between services and the bundler
	const skewSeconds int64 = 120
	now := time.Now().Unix()

	return &VerifyingPaymasterRequest{
		PaymasterAddress: address,
		ValidUntil:       big.NewInt(now + int64(duration.Seconds())),
		ValidAfter:       big.NewInt(now - skewSeconds),
	}
}

// VerifyingPaymasterMiddleware sponsors v0.6 operations with a
// VerifyingPaymaster whose signer key is held locally.
type VerifyingPaymasterMiddleware struct {
	chain    ethereum.ContractCaller
	address  common.Address
	key      *ecdsa.PrivateKey
	validFor time.Duration

	// request builds the validity window; replaced in tests.
	request func(common.Address, time.Duration) *VerifyingPaymasterRequest
}

func NewVerifyingPaymasterMiddleware(chain ethereum.ContractCaller, paymaster common.Address, key *ecdsa.PrivateKey, validFor time.Duration) *VerifyingPaymasterMiddleware {
	return &VerifyingPaymasterMiddleware{
		chain:    chain,
		address:  paymaster,
		key:      key,
		validFor: validFor,
		request:  GetVerifyingPaymasterRequestForDuration,
	}
}

// Apply installs both paymaster stages on cfg.
func (m *VerifyingPaymasterMiddleware) Apply(cfg Config) Config {
	cfg.DummyPaymasterAndData = m.DummyPaymasterAndData
	cfg.PaymasterAndData = m.PaymasterAndData
	return cfg
}

// DummyPaymasterAndData sets paymasterAndData with the final layout
// address(20) + abi.encode(uint48,uint48)(64) + signature(65) and a
// placeholder signature.
func (m *VerifyingPaymasterMiddleware) DummyPaymasterAndData(_ context.Context, s userop.Struct, _ Params) (userop.Struct, error) {
	v6, ok := s.Clone().(*userop.StructV6)
	if !ok {
		return nil, aaerr.NewMismatchingEntryPointError(string(userop.V06))
	}
	req := m.request(m.address, m.validFor)
	pnd, err := m.encode(req, dummyPaymasterSignature)
	if err != nil {
		return nil, err
	}
	v6.PaymasterAndData = deferred.Of(pnd)
	return v6, nil
}

// PaymasterAndData signs getHash(userOp, validUntil, validAfter) with the
// paymaster signer key.
func (m *VerifyingPaymasterMiddleware) PaymasterAndData(ctx context.Context, s userop.Struct, _ Params) (userop.Struct, error) {
	v6, ok := s.Clone().(*userop.StructV6)
	if !ok {
		return nil, aaerr.NewMismatchingEntryPointError(string(userop.V06))
	}
	r, err := zeroGasFields(v6, false, false).Resolve(ctx)
	if err != nil {
		return nil, err
	}
	req := r.(*userop.RequestV6)
	vp := m.request(m.address, m.validFor)

	// paymasterAndData and signature are excluded from the hash but must keep
	// their final length because the contract copies calldata by offset.
	placeholder, err := m.encode(vp, dummyPaymasterSignature)
	if err != nil {
		return nil, err
	}
	op := paymasterUserOperation{
		Sender:               req.Sender,
		Nonce:                req.GetNonce(),
		InitCode:             optionalBytes(req.InitCode),
		CallData:             req.CallData,
		CallGasLimit:         req.CallGasLimit.ToInt(),
		VerificationGasLimit: req.VerificationGasLimit.ToInt(),
		PreVerificationGas:   req.PreVerificationGas.ToInt(),
		MaxFeePerGas:         req.MaxFeePerGas.ToInt(),
		MaxPriorityFeePerGas: req.MaxPriorityFeePerGas.ToInt(),
		PaymasterAndData:     placeholder,
		Signature:            req.Signature,
	}
	if op.Nonce == nil {
		op.Nonce = new(big.Int)
	}

	calldata, err := verifyingPaymasterABI.Pack("getHash", op, vp.ValidUntil, vp.ValidAfter)
	if err != nil {
		return nil, fmt.Errorf("encode getHash: %w", err)
	}
	out, err := m.chain.CallContract(ctx, ethereum.CallMsg{To: &m.address, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get paymaster hash: %w", err)
	}
	values, err := verifyingPaymasterABI.Unpack("getHash", out)
	if err != nil {
		return nil, fmt.Errorf("decode getHash: %w", err)
	}
	hash := values[0].([32]byte)

	// The contract checks ECDSA.toEthSignedMessageHash(getHash(...)), which is
	// the EIP-191 message signature over the 32 byte hash.
	sig, err := signer.SignMessage(m.key, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign paymaster hash: %w", err)
	}
	pnd, err := m.encode(vp, sig)
	if err != nil {
		return nil, err
	}
	v6.PaymasterAndData = deferred.Of(pnd)
	return v6, nil
}

func (m *VerifyingPaymasterMiddleware) encode(vp *VerifyingPaymasterRequest, sig []byte) ([]byte, error) {
	window, err := validityArgs.Pack(vp.ValidUntil, vp.ValidAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to ABI encode timestamps: %w", err)
	}
	pnd := append(vp.PaymasterAddress.Bytes(), window...)
	return append(pnd, sig...), nil
}

func optionalBytes(b *hexutil.Bytes) []byte {
	if b == nil {
		return []byte{}
	}
	return *b
}
