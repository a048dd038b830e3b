package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
)

// Base: произвольный момент времени в мс, от которого считаются тесты.
const Base int64 = 1_700_000_000_000

// RunContract проверяет реализацию governor.Store. newStore должен отдавать пустое хранилище.
func RunContract(t *testing.T, newStore func(t *testing.T) governor.Store) {
	ctx := context.Background()
	login := domain.Limit{Requests: 5, WindowSeconds: 900}
	alice := domain.Bucket{Identity: "user:alice", EndpointKey: "/api/auth/login"}

	t.Run("acquire admits up to the limit", func(t *testing.T) {
		s := newStore(t)

		for i := int64(0); i < login.Requests; i++ {
			u, err := s.Acquire(ctx, alice, Base+i*1000, login)
			require.NoError(t, err)
			assert.True(t, u.Admitted)
			assert.Equal(t, i, u.Count)
			assert.Equal(t, Base, u.OldestMillis)
		}

		u, err := s.Acquire(ctx, alice, Base+10_000, login)
		require.NoError(t, err)
		assert.False(t, u.Admitted)
		assert.Equal(t, login.Requests, u.Count)
		assert.Equal(t, Base, u.OldestMillis)

		n, err := s.CountSince(ctx, alice, Base)
		require.NoError(t, err)
		assert.Equal(t, login.Requests, n, "rejected check must not be recorded")
	})

	t.Run("window slides", func(t *testing.T) {
		s := newStore(t)
		for i := int64(0); i < login.Requests; i++ {
			_, err := s.Acquire(ctx, alice, Base+i, login)
			require.NoError(t, err)
		}

		// две первые записи выпали из окна
		u, err := s.Acquire(ctx, alice, Base+login.WindowMillis()+2, login)
		require.NoError(t, err)
		assert.True(t, u.Admitted)
		assert.Equal(t, login.Requests-2, u.Count)
	})

	t.Run("buckets are independent", func(t *testing.T) {
		s := newStore(t)
		bob := domain.Bucket{Identity: "user:bob", EndpointKey: "/api/auth/login"}
		other := domain.Bucket{Identity: "user:alice", EndpointKey: "/api/contact"}

		for i := int64(0); i < login.Requests; i++ {
			_, err := s.Acquire(ctx, alice, Base+i, login)
			require.NoError(t, err)
		}
		for _, b := range []domain.Bucket{bob, other} {
			u, err := s.Acquire(ctx, b, Base+10, login)
			require.NoError(t, err)
			assert.True(t, u.Admitted, b.String())
		}
	})

	t.Run("primitive operations", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, alice, Base))
		require.NoError(t, s.Insert(ctx, alice, Base+100))
		require.NoError(t, s.Insert(ctx, alice, Base+200))

		n, err := s.CountSince(ctx, alice, Base+100)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		deleted, err := s.DeleteBefore(ctx, alice, Base+200)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		n, err = s.CountSince(ctx, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("delete identity", func(t *testing.T) {
		s := newStore(t)
		contact := domain.Bucket{Identity: alice.Identity, EndpointKey: "/api/contact"}
		bob := domain.Bucket{Identity: "user:bob", EndpointKey: alice.EndpointKey}
		for _, b := range []domain.Bucket{alice, contact, bob} {
			require.NoError(t, s.Insert(ctx, b, Base))
			require.NoError(t, s.Insert(ctx, b, Base+1))
		}

		deleted, err := s.DeleteIdentity(ctx, alice.Identity, contact.EndpointKey)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		n, err := s.CountSince(ctx, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n, "other endpoints of the identity stay")

		deleted, err = s.DeleteIdentity(ctx, alice.Identity, "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		n, err = s.CountSince(ctx, bob, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n, "other identities stay")

		deleted, err = s.DeleteIdentity(ctx, "user:nobody", "")
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("delete older than is idempotent", func(t *testing.T) {
		s := newStore(t)
		bob := domain.Bucket{Identity: "user:bob", EndpointKey: "default"}
		require.NoError(t, s.Insert(ctx, alice, Base))
		require.NoError(t, s.Insert(ctx, alice, Base+5000))
		require.NoError(t, s.Insert(ctx, bob, Base+1000))

		deleted, err := s.DeleteOlderThan(ctx, Base+2000)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		deleted, err = s.DeleteOlderThan(ctx, Base+2000)
		require.NoError(t, err)
		assert.Zero(t, deleted)

		n, err := s.CountSince(ctx, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("scan", func(t *testing.T) {
		s := newStore(t)
		bob := domain.Bucket{Identity: "user:bob", EndpointKey: "default"}
		require.NoError(t, s.Insert(ctx, alice, Base))
		require.NoError(t, s.Insert(ctx, alice, Base+5000))
		require.NoError(t, s.Insert(ctx, bob, Base+6000))

		var got []domain.Entry
		require.NoError(t, s.Scan(ctx, Base+1000, func(e domain.Entry) error {
			got = append(got, e)
			return nil
		}))
		assert.ElementsMatch(t, []domain.Entry{
			{Bucket: alice, TimestampMillis: Base + 5000},
			{Bucket: bob, TimestampMillis: Base + 6000},
		}, got)
	})

	t.Run("concurrent acquire never exceeds the limit", func(t *testing.T) {
		s := newStore(t)
		limit := domain.Limit{Requests: 7, WindowSeconds: 60}
		const workers = 40

		var admitted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u, err := s.Acquire(ctx, alice, Base+int64(i), limit)
				if assert.NoError(t, err) && u.Admitted {
					admitted.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, limit.Requests, admitted.Load())
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
