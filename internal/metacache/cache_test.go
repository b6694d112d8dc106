// ABOUTME: Tests for the TTL'd get-or-fetch metadata cache.
// ABOUTME: Validates hit/miss paths, negative caching, expiry, and size bounds.

package metacache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type room struct {
	ID   string
	Name string
}

func TestCache_FetchOnMissThenHit(t *testing.T) {
	cache := New[room](time.Minute, time.Second, 100, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (*room, error) {
		calls++
		return &room{ID: "r1", Name: "general"}, nil
	}

	v := cache.GetOrFetch(ctx, "r1", fetch)
	require.NotNil(t, v)
	assert.Equal(t, "general", v.Name)
	assert.Equal(t, 1, calls)

	// Second lookup is served from cache.
	v = cache.GetOrFetch(ctx, "r1", fetch)
	require.NotNil(t, v)
	assert.Equal(t, 1, calls)
}

func TestCache_FetchErrorCachesNotFound(t *testing.T) {
	cache := New[room](time.Minute, time.Minute, 100, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (*room, error) {
		calls++
		return nil, errors.New("boom")
	}

	assert.Nil(t, cache.GetOrFetch(ctx, "r1", fetch))
	assert.Equal(t, 1, calls)

	// The failure is cached: the failing lookup is not retried within negTTL.
	assert.Nil(t, cache.GetOrFetch(ctx, "r1", fetch))
	assert.Equal(t, 1, calls)
}

func TestCache_NotFoundUsesShorterTTL(t *testing.T) {
	cache := New[room](time.Minute, 20*time.Millisecond, 100, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (*room, error) {
		calls++
		if calls == 1 {
			return nil, nil // confirmed not found
		}
		return &room{ID: "r1"}, nil
	}

	assert.Nil(t, cache.GetOrFetch(ctx, "r1", fetch))

	time.Sleep(30 * time.Millisecond)

	// Negative entry expired, so the fetch runs again and succeeds.
	v := cache.GetOrFetch(ctx, "r1", fetch)
	require.NotNil(t, v)
	assert.Equal(t, 2, calls)
}

func TestCache_ExpiredEntryRefetched(t *testing.T) {
	cache := New[room](20*time.Millisecond, time.Millisecond, 100, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (*room, error) {
		calls++
		return &room{ID: "r1", Name: fmt.Sprintf("v%d", calls)}, nil
	}

	v := cache.GetOrFetch(ctx, "r1", fetch)
	assert.Equal(t, "v1", v.Name)

	time.Sleep(30 * time.Millisecond)

	v = cache.GetOrFetch(ctx, "r1", fetch)
	assert.Equal(t, "v2", v.Name)
	assert.Equal(t, 2, calls)
}

func TestCache_BoundedSize(t *testing.T) {
	cache := New[room](time.Minute, time.Minute, 5, nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("r%d", i)
		cache.GetOrFetch(ctx, id, func(context.Context) (*room, error) {
			return &room{ID: id}, nil
		})
		assert.LessOrEqual(t, cache.Len(), 5)
	}
}
