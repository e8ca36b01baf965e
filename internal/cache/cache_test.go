package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSet(t *testing.T) {
	c := New(time.Minute, nil)

	_, ok := c.Get("jobs_1")
	assert.False(t, ok)

	c.Set("jobs_1", "value")
	v, ok := c.Get("jobs_1")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestCacheGetSharesStoredValue(t *testing.T) {
	c := New(time.Minute, nil)
	c.Set("purchase_orders_3", map[string]interface{}{"name": "PO-1042"})

	v, ok := c.Get("purchase_orders_3")
	require.True(t, ok)
	doc := v.(map[string]interface{})
	doc["name"] = "mutated"

	// Get hands back the stored map itself, not a copy. Writers that
	// read-modify-write must load a fresh document instead of mutating a
	// cache hit in place.
	v, ok = c.Get("purchase_orders_3")
	require.True(t, ok)
	assert.Equal(t, "mutated", v.(map[string]interface{})["name"])
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(30*time.Millisecond, nil)
	c.Set("sheet_7", 42)

	v, ok := c.Get("sheet_7")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get("sheet_7")
	assert.False(t, ok, "entry older than TTL must not be served")
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := New(time.Minute, nil)
	c.Set("all_components", []int{1, 2})
	c.Set("component_1", 1)
	c.Set("component_2", 2)
	c.Set("sheet_1", "keep")

	c.Invalidate("component_")

	_, ok := c.Get("component_1")
	assert.False(t, ok)
	_, ok = c.Get("component_2")
	assert.False(t, ok)
	_, ok = c.Get("all_components")
	assert.True(t, ok)
	_, ok = c.Get("sheet_1")
	assert.True(t, ok)
}

func TestCacheBackgroundRefresh(t *testing.T) {
	c := New(20*time.Millisecond, nil)
	var calls int32
	c.ScheduleRefresh("all_sheets", func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		return fmt.Sprintf("load-%d", n), nil
	}, 20*time.Millisecond)

	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		v, ok := c.Get("all_sheets")
		return ok && v != nil
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestCacheRefreshFailureDoesNotStopWorker(t *testing.T) {
	c := New(15*time.Millisecond, nil)
	var calls int32
	c.ScheduleRefresh("bad", func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fmt.Errorf("database unavailable")
	}, 15*time.Millisecond)

	c.Start()
	defer c.Stop()

	// Failing loaders keep being retried; the worker stays alive.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)

	_, ok := c.Get("bad")
	assert.False(t, ok)
}

func TestCacheStopIsIdempotentWithoutStart(t *testing.T) {
	c := New(time.Second, nil)
	c.Stop()
	c.Start()
	c.Stop()
}
