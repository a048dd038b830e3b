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
)

func TestStatsEmptyStore(t *testing.T) {
	clock := newClock()
	agg := governor.NewAggregator(memory.New(), 10, clock.Now)

	report, err := agg.Report(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.TotalRequests)
	assert.Equal(t, int64(3600), report.HorizonSeconds)
	assert.NotNil(t, report.Endpoints)
	assert.Empty(t, report.Endpoints)
	assert.Empty(t, report.TopIdentities)
	assert.Empty(t, report.HourlyActivity)
}

func TestStatsScenario(t *testing.T) {
	clock := newClock()
	store := memory.New()
	now := clock.Now()

	identities := []string{"user:1", "user:2", "ip:10.0.0.1"}
	endpoints := []string{"/api/documents", "/api/contact"}
	for i, id := range identities {
		for _, ep := range endpoints {
			// объем по личности растет с индексом: 1, 2, 3 записи на эндпоинт
			var ts []time.Time
			for n := 0; n <= i; n++ {
				ts = append(ts, now.Add(-time.Duration(n+1)*time.Minute))
			}
			seed(t, store, domain.Bucket{Identity: id, EndpointKey: ep}, ts...)
		}
	}
	// за горизонтом
	seed(t, store, domain.Bucket{Identity: "user:9", EndpointKey: "default"}, now.Add(-2*time.Hour))

	report, err := governor.NewAggregator(store, 10, clock.Now).Report(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(12), report.TotalRequests)
	assert.Equal(t, []domain.EndpointStat{
		{EndpointKey: "/api/contact", Requests: 6, DistinctIdentities: 3},
		{EndpointKey: "/api/documents", Requests: 6, DistinctIdentities: 3},
	}, report.Endpoints)
	assert.Equal(t, []domain.IdentityStat{
		{Identity: "ip:10.0.0.1", Requests: 6, DistinctEndpoints: 2},
		{Identity: "user:2", Requests: 4, DistinctEndpoints: 2},
		{Identity: "user:1", Requests: 2, DistinctEndpoints: 2},
	}, report.TopIdentities)

	var hourly int64
	for i, p := range report.HourlyActivity {
		hourly += p.Count
		if i > 0 {
			assert.True(t, report.HourlyActivity[i-1].Hour.Before(p.Hour))
		}
	}
	assert.Equal(t, report.TotalRequests, hourly)
}

func TestStatsTopN(t *testing.T) {
	clock := newClock()
	store := memory.New()
	for _, id := range []string{"user:a", "user:b", "user:c"} {
		seed(t, store, domain.Bucket{Identity: id, EndpointKey: "default"}, clock.Now())
	}

	report, err := governor.NewAggregator(store, 2, clock.Now).Report(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, report.TopIdentities, 2)
	// равный объем: по ключу
	assert.Equal(t, "user:a", report.TopIdentities[0].Identity)
	assert.Equal(t, "user:b", report.TopIdentities[1].Identity)
}
