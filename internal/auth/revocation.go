package auth

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const revocationCleanupInterval = 10 * time.Minute

// MemoryRevocations is an in-process RevocationStore. Entries expire together
// with the token they block, so the cache never outgrows the live token set.
type MemoryRevocations struct {
	cache *gocache.Cache
	now   func() time.Time
}

// NewMemoryRevocations creates an empty in-memory block list.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{
		cache: gocache.New(gocache.NoExpiration, revocationCleanupInterval),
		now:   time.Now,
	}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(m.now())
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	m.cache.Set(tokenID, until, ttl)
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, found := m.cache.Get(tokenID)
	return found, nil
}
