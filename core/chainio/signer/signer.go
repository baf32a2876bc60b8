package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	eip191Prefix = "\x19Ethereum Signed Message:\n"
)

// SmartAccountSigner is the owner key of a smart account. The account never
// touches key material; it only asks for signatures.
type SmartAccountSigner interface {
	GetAddress(ctx context.Context) (common.Address, error)
	// SignMessage signs data with the EIP-191 personal message prefix.
	SignMessage(ctx context.Context, data []byte) ([]byte, error)
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
}

// LocalAccountSigner signs with an in-memory secp256k1 key.
type LocalAccountSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewLocalAccountSigner(key *ecdsa.PrivateKey) *LocalAccountSigner {
	return &LocalAccountSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// FromPrivateKeyHex builds a LocalAccountSigner from a hex key with or
// without the 0x prefix.
func FromPrivateKeyHex(privateKeyHex string) (*LocalAccountSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewLocalAccountSigner(privateKey), nil
}

func (s *LocalAccountSigner) GetAddress(_ context.Context) (common.Address, error) {
	return s.address, nil
}

func (s *LocalAccountSigner) SignMessage(_ context.Context, data []byte) ([]byte, error) {
	return SignMessage(s.key, data)
}

func (s *LocalAccountSigner) SignTypedData(_ context.Context, typedData apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return signHash(s.key, hash)
}

// Generate EIP191 signature
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	prefixedData := append(prefix, data...)
	return signHash(key, crypto.Keccak256(prefixedData))
}

func signHash(key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	// https://stackoverflow.com/questions/69762108/implementing-ethereum-personal-sign-eip-191-from-go-ethereum-gives-different-s
	sig[64] += 27
	return sig, nil
}

// RecoverMessageSigner returns the address that produced an EIP-191
// signature over data.
func RecoverMessageSigner(data, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	prefixed := append([]byte(eip191Prefix+fmt.Sprint(len(data))), data...)
	normalized := append([]byte{}, sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(prefixed), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
