package entrypoint

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	packedV6Args = abi.Arguments{
		{Type: addressT}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
		{Type: uint256T}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T},
		{Type: bytes32T},
	}
	packedV7Args = abi.Arguments{
		{Type: addressT}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
		{Type: bytes32T}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
	}
	hashArgs = abi.Arguments{{Type: bytes32T}, {Type: addressT}, {Type: uint256T}}
)

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToInt()
}

func bytesOrEmpty(v *hexutil.Bytes) []byte {
	if v == nil {
		return nil
	}
	return *v
}

// pad16 left pads v into a 16 byte word, as used by the v0.7 packed gas fields.
func pad16(v *hexutil.Big) []byte {
	return common.LeftPadBytes(bigOrZero(v).Bytes(), 16)
}

func concat16(hi, lo *hexutil.Big) [32]byte {
	var out [32]byte
	copy(out[:16], pad16(hi))
	copy(out[16:], pad16(lo))
	return out
}

// PackUserOperationV6 abi encodes the fields hashed by the v0.6 entry point.
// Byte fields are hashed and the signature is excluded.
func PackUserOperationV6(r *userop.RequestV6) ([]byte, error) {
	return packedV6Args.Pack(
		r.Sender,
		bigOrZero(r.Nonce),
		crypto.Keccak256Hash(bytesOrEmpty(r.InitCode)),
		crypto.Keccak256Hash(r.CallData),
		bigOrZero(r.CallGasLimit),
		bigOrZero(r.VerificationGasLimit),
		bigOrZero(r.PreVerificationGas),
		bigOrZero(r.MaxFeePerGas),
		bigOrZero(r.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(bytesOrEmpty(r.PaymasterAndData)),
	)
}

// InitCodeV7 joins factory and factoryData, or returns nil without a factory.
func InitCodeV7(r *userop.RequestV7) []byte {
	if r.Factory == nil {
		return nil
	}
	return append(r.Factory.Bytes(), bytesOrEmpty(r.FactoryData)...)
}

// PaymasterAndDataV7 rebuilds the packed paymaster field of the v0.7
// PackedUserOperation: paymaster, two 16 byte gas limits, then data.
func PaymasterAndDataV7(r *userop.RequestV7) []byte {
	if r.Paymaster == nil {
		return nil
	}
	out := append([]byte{}, r.Paymaster.Bytes()...)
	out = append(out, pad16(r.PaymasterVerificationGasLimit)...)
	out = append(out, pad16(r.PaymasterPostOpGasLimit)...)
	return append(out, bytesOrEmpty(r.PaymasterData)...)
}

// PackUserOperationV7 abi encodes the fields hashed by the v0.7 entry point.
func PackUserOperationV7(r *userop.RequestV7) ([]byte, error) {
	return packedV7Args.Pack(
		r.Sender,
		bigOrZero(r.Nonce),
		crypto.Keccak256Hash(InitCodeV7(r)),
		crypto.Keccak256Hash(r.CallData),
		concat16(r.VerificationGasLimit, r.CallGasLimit),
		bigOrZero(r.PreVerificationGas),
		concat16(r.MaxPriorityFeePerGas, r.MaxFeePerGas),
		crypto.Keccak256Hash(PaymasterAndDataV7(r)),
	)
}

// GetUserOperationHash returns keccak256(abi.encode(keccak256(packed),
// entryPoint, chainId)).
func GetUserOperationHash(r userop.Request, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	var (
		packed []byte
		err    error
	)
	switch req := r.(type) {
	case *userop.RequestV6:
		packed, err = PackUserOperationV6(req)
	case *userop.RequestV7:
		packed, err = PackUserOperationV7(req)
	default:
		return common.Hash{}, fmt.Errorf("unsupported user operation type %T", r)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}
	enc, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation hash: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}
