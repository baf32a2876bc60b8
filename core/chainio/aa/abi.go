package aa

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const simpleAccountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable",
	 "inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable",
	 "inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"upgradeToAndCall","stateMutability":"payable",
	 "inputs":[{"name":"newImplementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"owner","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// v0.7 SimpleAccount batches carry a value per call.
const simpleAccountV7BatchABIJSON = `[
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable",
	 "inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

const simpleFactoryABIJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

var (
	simpleAccountABI        = mustParseABI(simpleAccountABIJSON)
	simpleAccountV7BatchABI = mustParseABI(simpleAccountV7BatchABIJSON)
	simpleFactoryABI        = mustParseABI(simpleFactoryABIJSON)
)

// AccountABIs returns the SimpleAccount call data ABIs of every supported
// entry point version.
func AccountABIs() []abi.ABI {
	return []abi.ABI{simpleAccountABI, simpleAccountV7BatchABI}
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("Invalid ABI: %w", err))
	}
	return parsed
}
