package fetch

import (
	"context"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"
)

// Coalescing merges concurrent fetches of the same URI into one request.
// Every waiter receives the same body slice and must not modify it.
type Coalescing struct {
	next  Fetcher
	group singleflight.Group
}

func Coalesce(next Fetcher) *Coalescing {
	return &Coalescing{next: next}
}

// Fetch waits for the shared request only as long as ctx allows. The
// shared request itself ignores cancellation of any single caller, so a
// caller that gives up never fails the others; the wrapped Fetcher's own
// timeouts bound it.
func (c *Coalescing) Fetch(ctx context.Context, uri string) ([]byte, error) {
	ch := c.group.DoChan(uri, func() (any, error) {
		return c.next.Fetch(context.WithoutCancel(ctx), uri)
	})

	select {
	case res := <-ch:
		if res.Shared {
			glog.V(2).Infof("[fetch] coalesced %s\n", uri)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cache stores fetched bodies by URI.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached serves bodies from a Cache and stores successful fetches in it.
// Cache errors are logged and otherwise ignored; failed fetches are never
// cached.
type Cached struct {
	next  Fetcher
	cache Cache
	ttl   time.Duration
}

func WithCache(next Fetcher, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (c *Cached) Fetch(ctx context.Context, uri string) ([]byte, error) {
	body, ok, err := c.cache.Get(ctx, uri)
	switch {
	case err != nil:
		glog.Warningf("[fetch] cache get %s: %v\n", uri, err)
	case ok:
		glog.V(2).Infof("[fetch] cache hit %s\n", uri)
		return body, nil
	}

	body, err = c.next.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, uri, body, c.ttl); err != nil {
		glog.Warningf("[fetch] cache set %s: %v\n", uri, err)
	}
	return body, nil
}
