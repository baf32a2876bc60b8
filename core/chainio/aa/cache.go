package aa

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
)

// AddressCache shares counterfactual addresses between account instances
// built from the same init code, so a process that recreates accounts does
// not repeat the getSenderAddress simulation. A nil *AddressCache is a
// valid cache that never hits.
type AddressCache struct {
	cache *bigcache.BigCache
}

// NewAddressCache creates a cache whose entries expire after ttl.
func NewAddressCache(ctx context.Context, ttl time.Duration) (*AddressCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 1000
	cfg.MaxEntrySize = common.AddressLength
	cfg.Verbose = false
	cfg.HardMaxCacheSize = 8

	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create address cache: %w", err)
	}
	return &AddressCache{cache: c}, nil
}

// Counterfactual addresses depend on the entry point deployment and the
// exact init code.
func cacheKey(ep *entrypoint.Def, initCode []byte) string {
	return fmt.Sprintf("%s:%s:%x", ep.ChainID, ep.Address.Hex(), crypto.Keccak256(initCode))
}

func (c *AddressCache) Get(ep *entrypoint.Def, initCode []byte) (common.Address, bool) {
	if c == nil {
		return common.Address{}, false
	}
	raw, err := c.cache.Get(cacheKey(ep, initCode))
	if err != nil || len(raw) != common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(raw), true
}

func (c *AddressCache) Set(ep *entrypoint.Def, initCode []byte, addr common.Address) {
	if c == nil {
		return
	}
	_ = c.cache.Set(cacheKey(ep, initCode), addr.Bytes())
}

func (c *AddressCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

func (c *AddressCache) Close() error {
	if c == nil {
		return nil
	}
	return c.cache.Close()
}
