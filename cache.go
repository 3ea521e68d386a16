package x402

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 10 * time.Minute
)

// Classification is the outcome of matching a transaction against a requirement.
type Classification struct {
	Status VerificationStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`
	Sender string             `json:"sender,omitempty"`
	Amount string             `json:"amount,omitempty"`
}

// VerificationCache remembers final classifications so repeated redemptions
// of the same transaction skip the indexer.
type VerificationCache interface {
	Get(ctx context.Context, key string) (*Classification, bool)
	Set(ctx context.Context, key string, c Classification)
}

// CacheKey identifies a (content, transaction) pair.
func CacheKey(contentID, txID string) string {
	return contentID + ":" + txID
}

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, Classification]
}

// NewMemoryCache creates a MemoryCache holding at most size entries.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, Classification](size, nil, ttl)}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (*Classification, bool) {
	c, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	return &c, true
}

func (m *MemoryCache) Set(ctx context.Context, key string, c Classification) {
	m.lru.Add(key, c)
}
