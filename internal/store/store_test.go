package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dom/scrim-veto/internal/store"
	"github.com/dom/scrim-veto/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestRedisStore(t *testing.T) {
	rdb := testutil.NewTestRedis(t)
	runStoreTests(t, func(t *testing.T) store.Store {
		return store.NewRedisStore(rdb)
	})
}

// runStoreTests checks the behavior every Store must share. Keys are random
// per test so the Redis variant can reuse one container.
func runStoreTests(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()
	key := func(prefix string) string { return prefix + ":" + uuid.NewString() }

	t.Run("incr starts at one", func(t *testing.T) {
		s := newStore(t)
		k := key("seq")

		for want := int64(1); want <= 3; want++ {
			got, err := s.Incr(ctx, k)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("incr is gap free under concurrency", func(t *testing.T) {
		s := newStore(t)
		k := key("seq")
		const n = 50

		var wg sync.WaitGroup
		results := make(chan int64, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := s.Incr(ctx, k)
				assert.NoError(t, err)
				results <- v
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[int64]bool, n)
		for v := range results {
			assert.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
		for v := int64(1); v <= n; v++ {
			assert.True(t, seen[v], "missing value %d", v)
		}
	})

	t.Run("setnx expires", func(t *testing.T) {
		s := newStore(t)
		k := key("idem")

		ok, err := s.SetNX(ctx, k, 100*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetNX(ctx, k, 100*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)

		time.Sleep(250 * time.Millisecond)

		ok, err = s.SetNX(ctx, k, 100*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete releases marker", func(t *testing.T) {
		s := newStore(t)
		k := key("idem")

		_, err := s.SetNX(ctx, k, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, k))
		require.NoError(t, s.Delete(ctx, k), "deleting a missing key is fine")

		ok, err := s.SetNX(ctx, k, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Get(ctx, key("veto"))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("compare and set", func(t *testing.T) {
		s := newStore(t)
		k := key("veto")

		v1, err := s.CompareAndSet(ctx, k, 0, []byte(`{"step":0}`), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1)

		_, err = s.CompareAndSet(ctx, k, 0, []byte(`{"step":9}`), time.Minute)
		assert.ErrorIs(t, err, store.ErrVersionConflict, "create-only write on an existing key")

		v2, err := s.CompareAndSet(ctx, k, v1, []byte(`{"step":1}`), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v2)

		_, err = s.CompareAndSet(ctx, k, v1, []byte(`{"step":2}`), time.Minute)
		assert.ErrorIs(t, err, store.ErrVersionConflict, "stale version")

		data, version, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, v2, version)
		assert.JSONEq(t, `{"step":1}`, string(data))
	})

	t.Run("compare and set has one winner", func(t *testing.T) {
		s := newStore(t)
		k := key("veto")
		const n = 20

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CompareAndSet(ctx, k, 0, []byte(`{}`), time.Minute)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, store.ErrVersionConflict)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("presence counts connections", func(t *testing.T) {
		s := newStore(t)
		k := key("presence")

		n, err := s.PresenceAdd(ctx, k, "tab-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.PresenceAdd(ctx, k, "tab-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "re-adding a connection does not count it twice")

		n, err = s.PresenceAdd(ctx, k, "tab-2", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = s.PresenceRemove(ctx, k, "tab-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.PresenceRemove(ctx, k, "tab-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "removing an absent connection changes nothing")

		n, err = s.PresenceRemove(ctx, k, "tab-2")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = s.PresenceCount(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("presence touch extends one connection", func(t *testing.T) {
		s := newStore(t)
		k := key("presence")

		_, err := s.PresenceAdd(ctx, k, "tab-1", 200*time.Millisecond)
		require.NoError(t, err)
		_, err = s.PresenceAdd(ctx, k, "tab-2", 200*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(120 * time.Millisecond)
		require.NoError(t, s.PresenceTouch(ctx, k, "tab-1", 200*time.Millisecond))
		time.Sleep(120 * time.Millisecond)

		n, err := s.PresenceCount(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "only the touched connection is still live")
	})

	t.Run("presence touch does not revive", func(t *testing.T) {
		s := newStore(t)
		k := key("presence")

		_, err := s.PresenceAdd(ctx, k, "tab-1", time.Minute)
		require.NoError(t, err)
		_, err = s.PresenceRemove(ctx, k, "tab-1")
		require.NoError(t, err)
		require.NoError(t, s.PresenceTouch(ctx, k, "tab-1", time.Minute))

		n, err := s.PresenceCount(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("delete clears every connection", func(t *testing.T) {
		s := newStore(t)
		k := key("presence")

		for _, conn := range []string{"tab-1", "tab-2"} {
			_, err := s.PresenceAdd(ctx, k, conn, time.Minute)
			require.NoError(t, err)
		}
		require.NoError(t, s.Delete(ctx, k))

		n, err := s.PresenceCount(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("presence expires without touch", func(t *testing.T) {
		s := newStore(t)
		k := key("presence")

		_, err := s.PresenceAdd(ctx, k, "tab-1", 100*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(250 * time.Millisecond)

		n, err := s.PresenceAdd(ctx, k, "tab-2", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "the expired connection is not counted")
	})
}
