package aa

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

var (
	defaultSimpleFactoryAddresses = map[userop.Version]common.Address{
		userop.V06: common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454"),
		userop.V07: common.HexToAddress("0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985"),
	}

	// Fixed signature shaped like a real ECDSA one so bundlers can estimate
	// verification gas before the owner signs.
	simpleAccountDummySignature = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")
)

// DefaultSimpleAccountFactoryAddress returns the canonical SimpleAccountFactory
// for an entry point version.
func DefaultSimpleAccountFactoryAddress(v userop.Version) (common.Address, bool) {
	addr, ok := defaultSimpleFactoryAddresses[v]
	return addr, ok
}

// SetSimpleAccountFactoryAddress replaces the default factory for a version.
func SetSimpleAccountFactoryAddress(v userop.Version, address common.Address) {
	defaultSimpleFactoryAddresses[v] = address
}
