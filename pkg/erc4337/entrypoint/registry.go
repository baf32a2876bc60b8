// Package entrypoint binds an EntryPoint contract deployment to the user
// operation shape, validator and hash function of its protocol version.
package entrypoint

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

var (
	AddressV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	AddressV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
)

const DefaultVersion = userop.V06

var defaultAddresses = map[userop.Version]common.Address{
	userop.V06: AddressV06,
	userop.V07: AddressV07,
}

// Def is an entry point deployment on one chain.
type Def struct {
	Version userop.Version
	Address common.Address
	ChainID *big.Int
}

type Option func(*Def)

// WithAddress points the definition at a non canonical deployment.
func WithAddress(addr common.Address) Option {
	return func(d *Def) { d.Address = addr }
}

// GetEntryPoint returns the definition of version on chainID. An empty
// version selects DefaultVersion.
func GetEntryPoint(chainID *big.Int, version userop.Version, opts ...Option) (*Def, error) {
	if version == "" {
		version = DefaultVersion
	}
	if chainID == nil {
		return nil, aaerr.NewChainNotFoundError()
	}
	addr, ok := defaultAddresses[version]
	if !ok {
		return nil, aaerr.NewInvalidEntryPointError(chainID.Uint64(), string(version))
	}
	d := &Def{Version: version, Address: addr, ChainID: new(big.Int).Set(chainID)}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// SupportedVersions lists the versions GetEntryPoint accepts.
func SupportedVersions() []userop.Version {
	return []userop.Version{userop.V06, userop.V07}
}

// IsUserOpVersion reports whether s has the shape of this entry point.
func (d *Def) IsUserOpVersion(s userop.Struct) bool {
	return s != nil && s.Version() == d.Version
}

// CheckStruct fails with MismatchingEntryPointError when s does not match
// the bound version.
func (d *Def) CheckStruct(s userop.Struct) error {
	if !d.IsUserOpVersion(s) {
		return aaerr.NewMismatchingEntryPointError(string(d.Version))
	}
	return nil
}

// CheckOverrides fails with MismatchingEntryPointError when o carries
// paymaster fields of the other version, and with InvalidUserOperationError
// when a v0.7 paymaster override comes without its paymasterData.
func (d *Def) CheckOverrides(o *userop.Overrides) error {
	switch d.Version {
	case userop.V06:
		if o.HasV7Fields() {
			return aaerr.NewMismatchingEntryPointError(string(d.Version))
		}
	case userop.V07:
		if o.HasV6Fields() {
			return aaerr.NewMismatchingEntryPointError(string(d.Version))
		}
		if o != nil && o.Paymaster != nil && o.PaymasterData == nil {
			return aaerr.NewInvalidUserOperationError("paymaster override requires paymasterData",
				map[string]interface{}{"paymaster": o.Paymaster.Hex()})
		}
	}
	return nil
}

// NewStruct returns an empty struct of this entry point's shape.
func (d *Def) NewStruct() userop.Struct {
	return userop.New(d.Version)
}

// GetUserOperationHash hashes r for signing against this deployment.
func (d *Def) GetUserOperationHash(r userop.Request) (common.Hash, error) {
	if r.Version() != d.Version {
		return common.Hash{}, aaerr.NewMismatchingEntryPointError(string(d.Version))
	}
	return GetUserOperationHash(r, d.Address, d.ChainID)
}

// Validate checks r against the version's validity rules.
func (d *Def) Validate(r userop.Request) error {
	if r.Version() != d.Version {
		return aaerr.NewMismatchingEntryPointError(string(d.Version))
	}
	return userop.Validate(r)
}
