package profile

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/vibecheck-ai/vibecheck/internal/port/cache"
	"github.com/vibecheck-ai/vibecheck/internal/port/profile"
)

// CachedProvider decorates a profile.Provider with a TTL cache. Scores move
// slowly relative to eligibility checks, so a short TTL keeps the provider
// off the hot path without serving stale data for long.
type CachedProvider struct {
	inner  profile.Provider
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedProvider wraps inner with the given cache and TTL.
func NewCachedProvider(inner profile.Provider, c cache.Cache, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	return &CachedProvider{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func cacheKey(userID string) string {
	return "profile-score:" + userID
}

// Score returns the cached score when present, falling through to the
// provider otherwise. Cache failures are logged and ignored: the cache is
// an optimization, never a source of truth.
func (p *CachedProvider) Score(ctx context.Context, userID string) (int, error) {
	key := cacheKey(userID)

	if data, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		if score, err := strconv.Atoi(string(data)); err == nil {
			return score, nil
		}
	} else if err != nil {
		p.logger.WarnContext(ctx, "profile cache read failed", "error", err)
	}

	score, err := p.inner.Score(ctx, userID)
	if err != nil {
		return 0, err
	}

	if err := p.cache.Set(ctx, key, []byte(strconv.Itoa(score)), p.ttl); err != nil {
		p.logger.WarnContext(ctx, "profile cache write failed", "error", err)
	}
	return score, nil
}
