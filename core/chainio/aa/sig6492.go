package aa

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC-6492 suffix marking a signature from a not yet deployed account.
var magic6492 = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

var sig6492Args = func() abi.Arguments {
	addressT, _ := abi.NewType("address", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{{Type: addressT}, {Type: bytesT}, {Type: bytesT}}
}()

// WrapSignatureWith6492 returns abi.encode(factory, factoryCalldata,
// signature) followed by the ERC-6492 magic bytes.
func WrapSignatureWith6492(factory common.Address, factoryCalldata, signature []byte) ([]byte, error) {
	enc, err := sig6492Args.Pack(factory, factoryCalldata, signature)
	if err != nil {
		return nil, fmt.Errorf("encode 6492 signature: %w", err)
	}
	return append(enc, magic6492...), nil
}

// IsSignature6492 reports whether sig carries the ERC-6492 suffix.
func IsSignature6492(sig []byte) bool {
	return len(sig) >= len(magic6492) && bytes.Equal(sig[len(sig)-len(magic6492):], magic6492)
}

// UnwrapSignature6492 reverses WrapSignatureWith6492.
func UnwrapSignature6492(sig []byte) (common.Address, []byte, []byte, error) {
	if !IsSignature6492(sig) {
		return common.Address{}, nil, nil, errors.New("signature is not ERC-6492 wrapped")
	}
	values, err := sig6492Args.Unpack(sig[:len(sig)-len(magic6492)])
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("decode 6492 signature: %w", err)
	}
	return values[0].(common.Address), values[1].([]byte), values[2].([]byte), nil
}
