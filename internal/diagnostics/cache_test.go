package diagnostics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(DefaultTTL, DefaultMaxEntries)
	c.now = func() time.Time { return now }

	var calls int
	compute := func(context.Context) (*Report, error) {
		calls++
		return &Report{GeneratedAt: now}, nil
	}
	key := Key{WindowHours: 24, UserSub: "u1"}

	first, hit, err := c.GetOrCompute(ctx, key, compute)
	gt.NoError(t, err).Required()
	gt.Bool(t, hit).False()

	now = now.Add(299 * time.Second)
	second, hit, err := c.GetOrCompute(ctx, key, compute)
	gt.NoError(t, err).Required()
	gt.Bool(t, hit).True()
	gt.Value(t, second).Equal(first)
	gt.Value(t, calls).Equal(1)

	now = now.Add(2 * time.Second)
	_, hit, err = c.GetOrCompute(ctx, key, compute)
	gt.NoError(t, err).Required()
	gt.Bool(t, hit).False()
	gt.Value(t, calls).Equal(2)
}

func TestCacheEvictsOldestRecorded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(time.Hour, 3)
	c.now = func() time.Time { return now }

	compute := func(context.Context) (*Report, error) { return &Report{}, nil }
	for i := 1; i <= 4; i++ {
		_, _, err := c.GetOrCompute(ctx, Key{WindowHours: i}, compute)
		gt.NoError(t, err).Required()
		now = now.Add(time.Second)
		// reading the first key must not protect it from eviction
		_, _ = c.Lookup(Key{WindowHours: 1})
	}

	gt.Value(t, c.Len()).Equal(3)
	_, ok := c.Lookup(Key{WindowHours: 1})
	gt.Bool(t, ok).False()
	_, ok = c.Lookup(Key{WindowHours: 4})
	gt.Bool(t, ok).True()
}

func TestCacheSharesConcurrentMiss(t *testing.T) {
	ctx := context.Background()
	c := NewCache(time.Minute, 10)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*Report, error) {
		calls.Add(1)
		<-release
		return &Report{}, nil
	}

	var (
		wg     sync.WaitGroup
		misses atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, hit, err := c.GetOrCompute(ctx, Key{WindowHours: 1}, compute)
			gt.NoError(t, err)
			if !hit {
				misses.Add(1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	gt.Value(t, calls.Load()).Equal(int32(1))
	// only the computing caller reports a miss, so only it persists
	gt.Value(t, misses.Load()).Equal(int32(1))
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	c := NewCache(time.Minute, 10)
	_, _, err := c.GetOrCompute(context.Background(), Key{}, func(context.Context) (*Report, error) {
		return nil, errors.New("boom")
	})
	gt.Error(t, err)
	gt.Value(t, c.Len()).Equal(0)
}
