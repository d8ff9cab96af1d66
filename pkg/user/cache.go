package user

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore layers an in-memory LRU over a Store. Only GetByID is
// cached; it sits on the hot path of every page render. Writes that touch
// a user invalidate its entry so a stale profile or access flag is never
// served past the TTL.
type CachedStore struct {
	Store
	cache *expirable.LRU[string, *User]
}

// NewCachedStore wraps the store with an LRU of the given size and TTL.
func NewCachedStore(store Store, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: store,
		cache: expirable.NewLRU[string, *User](size, nil, ttl),
	}
}

func (c *CachedStore) GetByID(ctx context.Context, id string) (*User, error) {
	if u, ok := c.cache.Get(id); ok {
		return u, nil
	}
	u, err := c.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, u)
	return u, nil
}

func (c *CachedStore) UpdateProfile(ctx context.Context, id string, p Profile) error {
	if err := c.Store.UpdateProfile(ctx, id, p); err != nil {
		return err
	}
	c.cache.Remove(id)
	return nil
}

func (c *CachedStore) SetPassword(ctx context.Context, id, passwordHash string) error {
	if err := c.Store.SetPassword(ctx, id, passwordHash); err != nil {
		return err
	}
	c.cache.Remove(id)
	return nil
}

func (c *CachedStore) SetVerified(ctx context.Context, id string) error {
	if err := c.Store.SetVerified(ctx, id); err != nil {
		return err
	}
	c.cache.Remove(id)
	return nil
}
