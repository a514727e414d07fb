package matchmaking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/domain"
)

// CacheBackend is the Redis surface the result cache needs, mirroring the
// route search results, keyed by a hash of the match request.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ResultCache caches scored search responses, keyed by a normalized
// request tuple, for up to a short TTL (≤ 3 min).
type ResultCache struct {
	backend CacheBackend
	ttl     time.Duration
}

// NewResultCache builds a ResultCache.
func NewResultCache(backend CacheBackend, ttl time.Duration) *ResultCache {
	return &ResultCache{backend: backend, ttl: ttl}
}

// Key normalizes a MatchRequest into a stable cache key. Coordinates are
// rounded to ~100m precision and desired time to the minute so near-
// identical repeated searches share a cache entry.
func Key(req domain.MatchRequest) string {
	normalized := fmt.Sprintf("%.3f,%.3f|%.3f,%.3f|%s|%d|%.2f",
		req.Origin.Lat, req.Origin.Lon,
		req.Destination.Lat, req.Destination.Lon,
		req.DesiredTime.UTC().Format("2006-01-02T15:04"),
		req.MinSeats, req.RadiusKM,
	)
	sum := sha256.Sum256([]byte(normalized))
	return "matchmaking:search:" + hex.EncodeToString(sum[:])
}

// Get returns a cached response, if present.
func (c *ResultCache) Get(ctx context.Context, key string) (*domain.MatchResponse, bool) {
	raw, err := c.backend.Get(ctx, key)
	if err != nil || raw == "" {
		return nil, false
	}
	var resp domain.MatchResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// Set stores a response under key for the cache's configured TTL.
func (c *ResultCache) Set(ctx context.Context, key string, resp *domain.MatchResponse) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal match response: %w", err)
	}
	return c.backend.SetJSON(ctx, key, string(encoded), c.ttl)
}
