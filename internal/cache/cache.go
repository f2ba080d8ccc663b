// Package cache is a small JSON-value cache used to memoize expensive
// provider calls, keyed by content hash so identical inputs never pay
// twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// ContentKey derives a stable cache key from raw bytes.
func ContentKey(prefix string, data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + ":" + hex.EncodeToString(sum[:])
}
