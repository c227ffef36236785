// Package blocktime memoizes block-number-to-timestamp lookups so the
// backfill and live ingestion paths don't re-fetch a header they've already
// seen (spec §9 design notes).
package blocktime

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderFetcher is the subset of rpcclient.Client this cache needs.
type HeaderFetcher interface {
	GetHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Cache memoizes block number -> timestamp. It grows unbounded for the
// lifetime of the process; a full historical backfill touches at most one
// entry per block, which is cheap relative to the event rows it produces.
type Cache struct {
	fetcher HeaderFetcher

	mu   sync.Mutex
	byNo map[uint64]uint64
}

// New builds a Cache backed by fetcher.
func New(fetcher HeaderFetcher) *Cache {
	return &Cache{fetcher: fetcher, byNo: make(map[uint64]uint64)}
}

// Timestamp returns the unix timestamp for blockNumber, fetching and caching
// the header on first access.
func (c *Cache) Timestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	c.mu.Lock()
	if ts, ok := c.byNo[blockNumber]; ok {
		c.mu.Unlock()
		return ts, nil
	}
	c.mu.Unlock()

	header, err := c.fetcher.GetHeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.byNo[blockNumber] = header.Time
	c.mu.Unlock()
	return header.Time, nil
}
