package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/storage/storetest"
)

func newStore(t *testing.T, opts Options) *Store {
	dsn, done := storetest.NewTestPostgres(t)
	t.Cleanup(done)

	pool, err := Connect(context.Background(), dsn, 20)
	require.NoError(t, err)

	s := New(pool, opts)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStoreContract(t *testing.T) {
	s := newStore(t, Options{})

	storetest.RunContract(t, func(t *testing.T) governor.Store {
		_, err := s.pool.Exec(context.Background(), `TRUNCATE governor_entries`)
		require.NoError(t, err)
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newStore(t, Options{})
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSweepInBatches(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{SweepBatch: 3, SweepRate: 1000})
	b := domain.Bucket{Identity: "ip:10.0.0.1", EndpointKey: "default"}

	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.Insert(ctx, b, storetest.Base+i))
	}

	deleted, err := s.DeleteOlderThan(ctx, storetest.Base+8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), deleted)

	n, err := s.CountSince(ctx, b, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
