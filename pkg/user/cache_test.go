package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore tracks GetByID hits against the backing store.
type countingStore struct {
	Store
	users map[string]*User
	gets  int
}

func (c *countingStore) GetByID(_ context.Context, id string) (*User, error) {
	c.gets++
	u, ok := c.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (c *countingStore) UpdateProfile(context.Context, string, Profile) error { return nil }
func (c *countingStore) SetVerified(context.Context, string) error            { return nil }

func TestCachedStoreServesFromCache(t *testing.T) {
	backing := &countingStore{users: map[string]*User{"u1": {ID: "u1", Name: "Ada"}}}
	cached := NewCachedStore(backing, 16, time.Minute)
	ctx := context.Background()

	u, err := cached.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	_, err = cached.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.gets, "second lookup must hit the cache")
}

func TestCachedStoreMissesAreNotCached(t *testing.T) {
	backing := &countingStore{users: map[string]*User{}}
	cached := NewCachedStore(backing, 16, time.Minute)
	ctx := context.Background()

	_, err := cached.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, backing.gets)
}

func TestCachedStoreWriteInvalidates(t *testing.T) {
	backing := &countingStore{users: map[string]*User{"u1": {ID: "u1", Name: "Ada"}}}
	cached := NewCachedStore(backing, 16, time.Minute)
	ctx := context.Background()

	_, err := cached.GetByID(ctx, "u1")
	require.NoError(t, err)

	backing.users["u1"] = &User{ID: "u1", Name: "Ada Lovelace"}
	require.NoError(t, cached.UpdateProfile(ctx, "u1", Profile{Name: "Ada Lovelace"}))

	u, err := cached.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", u.Name, "write must evict the cached entry")
	assert.Equal(t, 2, backing.gets)
}
