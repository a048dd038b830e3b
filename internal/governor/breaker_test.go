package governor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/storage/memory"
	"go.uber.org/zap"
)

// flakyStore отвечает ошибкой первые failPings раз на Ping.
type flakyStore struct {
	*memory.Store
	failPings int64
	pings     atomic.Int64
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.pings.Add(1) <= f.failPings {
		return errors.New("connection refused")
	}
	return f.Store.Ping(ctx)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	store := &brokenStore{Store: memory.New()}
	settings := governor.BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 2}
	guarded := governor.NewBreakerStore(store, settings, nil, zap.NewNop())

	b := domain.Bucket{Identity: "ip:10.0.0.1", EndpointKey: "default"}
	limit := domain.Limit{Requests: 10, WindowSeconds: 60}

	for i := 0; i < 3; i++ {
		_, err := guarded.Acquire(context.Background(), b, 1, limit)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, guarded.State())

	_, err := guarded.Acquire(context.Background(), b, 1, limit)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(3), store.calls.Load(), "open breaker must not touch the store")
}

func TestBreakerIgnoresCanceledRequests(t *testing.T) {
	store := memory.New()
	settings := governor.BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 1}
	guarded := governor.NewBreakerStore(store, settings, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := domain.Bucket{Identity: "ip:10.0.0.1", EndpointKey: "default"}
	for i := 0; i < 5; i++ {
		_, err := guarded.Acquire(ctx, b, 1, domain.Limit{Requests: 1, WindowSeconds: 1})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, guarded.State())
}

func TestEngineFailsOpenOnOpenBreaker(t *testing.T) {
	store := &brokenStore{Store: memory.New()}
	settings := governor.BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 0}
	guarded := governor.NewBreakerStore(store, settings, nil, zap.NewNop())
	e := newEngine(t, guarded, newClock(), zap.NewNop())

	for i := 0; i < 5; i++ {
		v := check(e, "/", guest("10.0.0.1"))
		assert.True(t, v.Allowed)
		assert.True(t, v.FailOpen)
	}
	assert.Equal(t, int64(1), store.calls.Load())
}

func TestWaitForStore(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failPings: 2}
	require.NoError(t, governor.WaitForStore(context.Background(), store, 5, zap.NewNop()))
	assert.Equal(t, int64(3), store.pings.Load())

	dead := &flakyStore{Store: memory.New(), failPings: 100}
	err := governor.WaitForStore(context.Background(), dead, 2, zap.NewNop())
	assert.Error(t, err)
	assert.Equal(t, int64(2), dead.pings.Load())
}
