// Package userop holds the ERC-4337 user operation shapes for entry point
// v0.6 and v0.7: the deferred struct threaded through middleware and the
// resolved, hex encoded request sent to a bundler.
package userop

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
)

type Version string

const (
	V06 Version = "0.6.0"
	V07 Version = "0.7.0"
)

// Struct is a user operation whose fields may still be pending. It is
// implemented by *StructV6 and *StructV7 only.
type Struct interface {
	Version() Version
	Fields() *Common
	Clone() Struct
	Resolve(ctx context.Context) (Request, error)
}

// Common are the fields shared by every entry point version.
type Common struct {
	Sender               deferred.Value[common.Address]
	Nonce                deferred.Value[*big.Int]
	CallData             deferred.Value[[]byte]
	CallGasLimit         deferred.Value[*big.Int]
	VerificationGasLimit deferred.Value[*big.Int]
	PreVerificationGas   deferred.Value[*big.Int]
	MaxFeePerGas         deferred.Value[*big.Int]
	MaxPriorityFeePerGas deferred.Value[*big.Int]
	Signature            deferred.Value[[]byte]
}

type StructV6 struct {
	Common
	InitCode         deferred.Value[[]byte]
	PaymasterAndData deferred.Value[[]byte]
}

func (s *StructV6) Version() Version { return V06 }
func (s *StructV6) Fields() *Common  { return &s.Common }

func (s *StructV6) Clone() Struct {
	c := *s
	return &c
}

type StructV7 struct {
	Common
	Factory                       deferred.Value[common.Address]
	FactoryData                   deferred.Value[[]byte]
	Paymaster                     deferred.Value[common.Address]
	PaymasterData                 deferred.Value[[]byte]
	PaymasterVerificationGasLimit deferred.Value[*big.Int]
	PaymasterPostOpGasLimit       deferred.Value[*big.Int]
}

func (s *StructV7) Version() Version { return V07 }
func (s *StructV7) Fields() *Common  { return &s.Common }

func (s *StructV7) Clone() Struct {
	c := *s
	return &c
}

// ClearPaymaster removes every paymaster field.
func (s *StructV7) ClearPaymaster() {
	s.Paymaster = deferred.Absent[common.Address]()
	s.PaymasterData = deferred.Absent[[]byte]()
	s.PaymasterVerificationGasLimit = deferred.Absent[*big.Int]()
	s.PaymasterPostOpGasLimit = deferred.Absent[*big.Int]()
}

// New returns an empty struct of the given version, or nil for an unknown
// version.
func New(v Version) Struct {
	switch v {
	case V06:
		return &StructV6{}
	case V07:
		return &StructV7{}
	}
	return nil
}
