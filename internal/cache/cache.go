// Package cache provides the TTL key/value caches used for profile and
// dashboard payloads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// GetJSON decodes the cached value for key into dst. It returns ErrMiss when
// nothing usable is cached; undecodable entries are treated as misses.
func GetJSON(ctx context.Context, c Cache, key string, dst any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		_ = c.Invalidate(ctx, key)
		return ErrMiss
	}
	return nil
}

func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// ProfileKey is the cache key for a user's profile payload.
func ProfileKey(userID string) string {
	return "profile:" + userID
}

// DashboardProfileKey is the cache key for the aggregated dashboard profile.
// Watchlist writes invalidate it.
func DashboardProfileKey(userID string) string {
	return "dashboard_profile_data:" + userID
}
