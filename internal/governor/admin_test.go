package governor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/storage/memory"
	"go.uber.org/zap"
)

func newAdmin(store *memory.Store, clock *manualClock) *governor.Admin {
	classifier := governor.NewClassifier([]string{"/api/auth/login", "/api/documents"})
	return governor.NewAdmin(store, classifier, governor.NewAggregator(store, 10, clock.Now), zap.NewNop())
}

func TestResetLimits(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := memory.New()
	now := clock.Now()

	seed(t, store, domain.Bucket{Identity: "user:42", EndpointKey: "/api/auth/login"}, now, now)
	seed(t, store, domain.Bucket{Identity: "user:42", EndpointKey: "/api/documents"}, now)
	seed(t, store, domain.Bucket{Identity: "user:7", EndpointKey: "/api/documents"}, now)

	admin := newAdmin(store, clock)

	// путь классифицируется так же, как в горячем пути
	deleted, err := admin.ResetLimits(ctx, "user:42", "/api/documents/15")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = admin.ResetLimits(ctx, "user:42", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	report, err := admin.GetStats(ctx, 3600)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.TotalRequests)
}

func TestResetLimitsRequiresIdentity(t *testing.T) {
	admin := newAdmin(memory.New(), newClock())
	_, err := admin.ResetLimits(context.Background(), "  ", "")
	assert.ErrorIs(t, err, governor.ErrEmptyIdentity)
}

func TestGetStatsHorizon(t *testing.T) {
	clock := newClock()
	store := memory.New()
	seed(t, store, domain.Bucket{Identity: "user:1", EndpointKey: "default"}, clock.Now().Add(-90*time.Minute))

	admin := newAdmin(store, clock)

	report, err := admin.GetStats(context.Background(), 3600)
	require.NoError(t, err)
	assert.Zero(t, report.TotalRequests)

	report, err = admin.GetStats(context.Background(), 7200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.TotalRequests)
}

func TestGetStatsRejectsOutOfRangeHorizon(t *testing.T) {
	admin := newAdmin(memory.New(), newClock())

	for _, horizon := range []int64{0, -1, 10_000_000_000, governor.MaxHorizonSeconds + 1} {
		_, err := admin.GetStats(context.Background(), horizon)
		assert.ErrorIs(t, err, governor.ErrInvalidHorizon, "horizon %d", horizon)
	}

	report, err := admin.GetStats(context.Background(), governor.MaxHorizonSeconds)
	require.NoError(t, err)
	assert.Equal(t, governor.MaxHorizonSeconds, report.HorizonSeconds)
}

func TestResetLimitsNormalisesAddress(t *testing.T) {
	clock := newClock()
	store := memory.New()
	// горячий путь хранит адрес в нижнем регистре
	stored := domain.NewCaller("", "FE80::1", "").Identity.String()
	require.Equal(t, "ip:fe80::1", stored)
	seed(t, store, domain.Bucket{Identity: stored, EndpointKey: "/api/auth/login"}, clock.Now())

	deleted, err := newAdmin(store, clock).ResetLimits(context.Background(), "ip:FE80::1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Zero(t, store.Buckets())
}
