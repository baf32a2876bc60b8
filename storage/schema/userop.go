package schema

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// UserOpStorageKey is the primary record key. Records of one sender sort by
// their ulid, so a prefix scan lists them oldest first.
// uo:<sender>:<id>
func UserOpStorageKey(sender common.Address, id string) []byte {
	return []byte(fmt.Sprintf("uo:%s:%s", strings.ToLower(sender.Hex()), id))
}

// UserOpBySenderPrefix returns the prefix of every record sent by sender
func UserOpBySenderPrefix(sender common.Address) []byte {
	return []byte(fmt.Sprintf("uo:%s:", strings.ToLower(sender.Hex())))
}

// UserOpHashIndexKey maps an operation hash to its primary key.
// uoh:<hash>
func UserOpHashIndexKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("uoh:%s", strings.ToLower(hash.Hex())))
}
