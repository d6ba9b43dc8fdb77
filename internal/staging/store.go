package staging

import (
	"context"
	"time"
)

// Store is the ephemeral key-expiring store holding in-flight verification
// state. Entries are evicted by TTL; callers delete consumed entries
// explicitly and never rely on eviction for correctness.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) error
}
