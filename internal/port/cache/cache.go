// Package cache defines the port interface for key-value caching. The
// matching engine uses it to keep slow-moving collaborator reads (profile
// completeness scores) off the hot eligibility path.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
