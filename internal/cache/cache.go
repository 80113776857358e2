package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is a JSON value store with per-key expiry. A miss is not an error.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Key joins a namespace and its parts with ':'.
func Key(namespace string, parts ...string) string {
	if len(parts) == 0 {
		return namespace
	}
	return namespace + ":" + strings.Join(parts, ":")
}
