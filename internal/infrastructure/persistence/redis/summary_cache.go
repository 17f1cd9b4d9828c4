package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/mentorship-hub/internal/application/query"
	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
)

// Static check that SummaryCache satisfies the query contract.
var _ query.SummaryCache = (*SummaryCache)(nil)

// jsonStore is the part of Cache the summary cache needs.
type jsonStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
}

// SummaryCache keeps ProfileSummary cards under PrefixSummary.
type SummaryCache struct {
	store jsonStore
	ttl   time.Duration
}

// NewSummaryCache creates a summary cache. ttl <= 0 uses TTLSummary.
func NewSummaryCache(cache *Cache, ttl time.Duration) *SummaryCache {
	return newSummaryCache(cache, ttl)
}

func newSummaryCache(store jsonStore, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = TTLSummary
	}
	return &SummaryCache{store: store, ttl: ttl}
}

// Get returns a cached card. A miss is not an error.
func (c *SummaryCache) Get(ctx context.Context, uid mentorship.UserID) (mentorship.ProfileSummary, bool, error) {
	var s mentorship.ProfileSummary
	err := c.store.Get(ctx, SummaryKey(uid.String()), &s)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return mentorship.ProfileSummary{}, false, nil
	case err != nil:
		return mentorship.ProfileSummary{}, false, err
	}
	return s, true, nil
}

// Set stores a card. Placeholder cards are never cached.
func (c *SummaryCache) Set(ctx context.Context, s mentorship.ProfileSummary) error {
	if s.Unknown || !s.UID.IsValid() {
		return nil
	}
	return c.store.Set(ctx, SummaryKey(s.UID.String()), s, c.ttl)
}

// Invalidate drops cards.
func (c *SummaryCache) Invalidate(ctx context.Context, uids ...mentorship.UserID) error {
	keys := make([]string, 0, len(uids))
	for _, uid := range uids {
		if uid.IsValid() {
			keys = append(keys, SummaryKey(uid.String()))
		}
	}
	return c.store.Delete(ctx, keys...)
}
