// Package registry resolves instruments and users from the store with
// a short read-through cache in front, so the hot submission path does
// not hit the database for every order.
package registry

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openalpha/bondbook/store"
	"github.com/openalpha/bondbook/types"
)

const (
	cacheTTL     = 30 * time.Second
	cacheCleanup = time.Minute
)

// Registry is a cached view over the store's instrument and user
// tables. Negative results are not cached; an instrument created a
// moment ago becomes visible on the next lookup.
type Registry struct {
	store store.Store
	cache *gocache.Cache
}

// New creates a registry over the given store
func New(s store.Store) *Registry {
	return &Registry{
		store: s,
		cache: gocache.New(cacheTTL, cacheCleanup),
	}
}

// Instrument resolves an instrument by ID.
func (r *Registry) Instrument(ctx context.Context, id string) (*types.Instrument, error) {
	key := "instrument:" + id
	if v, ok := r.cache.Get(key); ok {
		return v.(*types.Instrument), nil
	}
	inst, err := r.store.GetInstrument(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, inst)
	return inst, nil
}

// User resolves a user by ID.
func (r *Registry) User(ctx context.Context, id string) (*types.User, error) {
	key := "user:" + id
	if v, ok := r.cache.Get(key); ok {
		return v.(*types.User), nil
	}
	u, err := r.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, u)
	return u, nil
}

// Invalidate drops any cached copy of the instrument. Called after an
// instrument status change so tradability checks see the new state.
func (r *Registry) Invalidate(instrumentID string) {
	r.cache.Delete("instrument:" + instrumentID)
}
