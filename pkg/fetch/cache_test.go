package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls map[string]int
	fail  bool
}

func (f *countingFetcher) Get(_ context.Context, path string) ([]byte, error) {
	f.calls[path]++
	if f.fail {
		return nil, ErrNotFound
	}
	return []byte(path), nil
}

func TestCachingFetcher(t *testing.T) {
	delegate := &countingFetcher{calls: map[string]int{}}
	now := time.Unix(1000, 0)
	c := NewCachingFetcher(delegate, WithExpiration(time.Minute))
	c.now = func() time.Time { return now }
	ctx := context.Background()

	data, err := c.Get(ctx, "buggy.json")
	require.NoError(t, err)
	assert.Equal(t, "buggy.json", string(data))

	// callers may modify what they get
	data[0] = 'X'
	data, err = c.Get(ctx, "buggy.json")
	require.NoError(t, err)
	assert.Equal(t, "buggy.json", string(data))
	assert.Equal(t, 1, delegate.calls["buggy.json"])

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "buggy.json")
	require.NoError(t, err)
	assert.Equal(t, 2, delegate.calls["buggy.json"])

	c.Invalidate("buggy.json")
	_, err = c.Get(ctx, "buggy.json")
	require.NoError(t, err)
	assert.Equal(t, 3, delegate.calls["buggy.json"])
}

func TestCachingFetcher_ErrorsNotCached(t *testing.T) {
	delegate := &countingFetcher{calls: map[string]int{}, fail: true}
	c := NewCachingFetcher(delegate)

	_, err := c.Get(context.Background(), "nope.json")
	assert.True(t, errors.Is(err, ErrNotFound))
	delegate.fail = false
	data, err := c.Get(context.Background(), "nope.json")
	require.NoError(t, err)
	assert.Equal(t, "nope.json", string(data))
	assert.Equal(t, 2, delegate.calls["nope.json"])
}

// blockingFetcher holds requests for "slow" until release is closed.
type blockingFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	started chan string
	release chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		calls:   map[string]int{},
		started: make(chan string, 10),
		release: make(chan struct{}),
	}
}

func (f *blockingFetcher) Get(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	f.calls[path]++
	f.mu.Unlock()
	f.started <- path
	if path == "slow" {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(path), nil
}

func (f *blockingFetcher) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type result struct {
	data []byte
	err  error
}

func getAsync(ctx context.Context, c *CachingFetcher, path string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		data, err := c.Get(ctx, path)
		ch <- result{data, err}
	}()
	return ch
}

func TestCachingFetcher_ConcurrentLoads(t *testing.T) {
	delegate := newBlockingFetcher()
	c := NewCachingFetcher(delegate)
	ctx := context.Background()

	first := getAsync(ctx, c, "slow")
	require.Equal(t, "slow", <-delegate.started)

	// other paths don't wait for the pending load
	data, err := c.Get(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", string(data))

	// a caller waiting for the pending load still sees its own cancellation
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Get(cancelled, "slow")
	assert.ErrorIs(t, err, context.Canceled)

	second := getAsync(ctx, c, "slow")
	close(delegate.release)

	for _, ch := range []<-chan result{first, second} {
		res := <-ch
		require.NoError(t, res.err)
		assert.Equal(t, "slow", string(res.data))
	}
	assert.Equal(t, 1, delegate.callCount("slow"))
}

func TestCachingFetcher_LoaderCancelled(t *testing.T) {
	delegate := newBlockingFetcher()
	c := NewCachingFetcher(delegate)

	loaderCtx, cancel := context.WithCancel(context.Background())
	loader := getAsync(loaderCtx, c, "slow")
	require.Equal(t, "slow", <-delegate.started)

	waiter := getAsync(context.Background(), c, "slow")
	cancel()
	res := <-loader
	assert.ErrorIs(t, res.err, context.Canceled)

	// the waiter loads again on its own
	require.Equal(t, "slow", <-delegate.started)
	close(delegate.release)
	res = <-waiter
	require.NoError(t, res.err)
	assert.Equal(t, "slow", string(res.data))
	assert.Equal(t, 2, delegate.callCount("slow"))
}
