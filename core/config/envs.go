package config

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var explorerURLs = map[int64]string{
	1:        "https://etherscan.io",
	17000:    "https://holesky.etherscan.io",
	11155111: "https://sepolia.etherscan.io",
	8453:     "https://basescan.org",
	84532:    "https://sepolia.basescan.org",
}

// ExplorerTxURL links tx on the block explorer of chainID. Unknown chains
// yield an empty string.
func ExplorerTxURL(chainID *big.Int, tx common.Hash) string {
	if chainID == nil || !chainID.IsInt64() {
		return ""
	}
	base, ok := explorerURLs[chainID.Int64()]
	if !ok {
		return ""
	}
	return base + "/tx/" + tx.Hex()
}
