package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mpapenbr/racesim/log"
)

type (
	// CachingFetcher keeps successfully fetched documents for a while.
	// Failed requests are not cached.
	CachingFetcher struct {
		mutex      sync.Mutex
		delegate   Fetcher
		items      map[string]item
		group      singleflight.Group
		expiration time.Duration
		now        func() time.Time
		l          *log.Logger
	}
	CacheOption func(*CachingFetcher)

	item struct {
		data    []byte
		expires time.Time
	}
)

func WithExpiration(d time.Duration) CacheOption {
	return func(c *CachingFetcher) {
		c.expiration = d
	}
}

func WithCacheLogger(l *log.Logger) CacheOption {
	return func(c *CachingFetcher) {
		c.l = l
	}
}

func NewCachingFetcher(delegate Fetcher, opts ...CacheOption) *CachingFetcher {
	c := &CachingFetcher{
		delegate:   delegate,
		items:      make(map[string]item),
		expiration: 5 * time.Minute,
		now:        time.Now,
		l:          log.Default().Named("fetch.cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached document or loads it from the delegate.
// Concurrent requests for the same path are served by a single load, other
// paths are loaded in parallel. The lock is never held during a load.
func (c *CachingFetcher) Get(ctx context.Context, path string) ([]byte, error) {
	for {
		if data, ok := c.lookup(path); ok {
			return data, nil
		}
		leader := false
		ch := c.group.DoChan(path, func() (any, error) {
			leader = true
			return c.load(ctx, path)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// the loading caller gave up, try again with our own context
				if !leader && isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			data, _ := res.Val.([]byte)
			return clone(data), nil
		}
	}
}

func (c *CachingFetcher) lookup(path string) ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	it, ok := c.items[path]
	if !ok {
		return nil, false
	}
	if !it.expires.After(c.now()) {
		delete(c.items, path)
		return nil, false
	}
	return clone(it.data), true
}

func (c *CachingFetcher) load(ctx context.Context, path string) ([]byte, error) {
	data, err := c.delegate.Get(ctx, path)
	c.l.Debug("cache load", log.String("path", path))
	if err != nil {
		return nil, err
	}
	c.mutex.Lock()
	c.items[path] = item{data: data, expires: c.now().Add(c.expiration)}
	c.mutex.Unlock()
	return data, nil
}

func (c *CachingFetcher) Invalidate(path string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, path)
	c.l.Debug("invalidate", log.String("path", path), log.Int("remain", len(c.items)))
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
