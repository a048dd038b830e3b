package governor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/ratewarden/internal/domain"
)

const (
	DefaultStatsHorizon = time.Hour
	DefaultTopN         = 10
)

// Aggregator строит отчеты по хранилищу учета. Только читает.
type Aggregator struct {
	scanner EntryScanner
	topN    int
	now     Clock
}

func NewAggregator(scanner EntryScanner, topN int, clock Clock) *Aggregator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{scanner: scanner, topN: topN, now: clock}
}

type endpointAcc struct {
	requests   int64
	identities map[string]struct{}
}

type identityAcc struct {
	requests  int64
	endpoints map[string]struct{}
}

// Report агрегирует записи за последние horizon. Пустое хранилище: пустые коллекции, не ошибка.
func (a *Aggregator) Report(ctx context.Context, horizon time.Duration) (domain.StatsReport, error) {
	if horizon <= 0 {
		horizon = DefaultStatsHorizon
	}
	now := a.now()
	since := now.Add(-horizon).UnixMilli()

	endpoints := make(map[string]*endpointAcc)
	identities := make(map[string]*identityAcc)
	hourly := make(map[int64]int64)
	var total int64

	err := a.scanner.Scan(ctx, since, func(e domain.Entry) error {
		if e.TimestampMillis < since {
			return nil
		}
		total++

		ep := endpoints[e.EndpointKey]
		if ep == nil {
			ep = &endpointAcc{identities: make(map[string]struct{})}
			endpoints[e.EndpointKey] = ep
		}
		ep.requests++
		ep.identities[e.Identity] = struct{}{}

		id := identities[e.Identity]
		if id == nil {
			id = &identityAcc{endpoints: make(map[string]struct{})}
			identities[e.Identity] = id
		}
		id.requests++
		id.endpoints[e.EndpointKey] = struct{}{}

		hour := time.UnixMilli(e.TimestampMillis).UTC().Truncate(time.Hour).Unix()
		hourly[hour]++
		return nil
	})
	if err != nil {
		return domain.StatsReport{}, fmt.Errorf("scan entries: %w", err)
	}

	report := domain.StatsReport{
		HorizonSeconds: int64(horizon / time.Second),
		GeneratedAt:    now.UTC(),
		TotalRequests:  total,
		Endpoints:      make([]domain.EndpointStat, 0, len(endpoints)),
		TopIdentities:  make([]domain.IdentityStat, 0, len(identities)),
		HourlyActivity: make([]domain.ActivityPoint, 0, len(hourly)),
	}

	for key, acc := range endpoints {
		report.Endpoints = append(report.Endpoints, domain.EndpointStat{
			EndpointKey:        key,
			Requests:           acc.requests,
			DistinctIdentities: len(acc.identities),
		})
	}
	sort.Slice(report.Endpoints, func(i, j int) bool {
		x, y := report.Endpoints[i], report.Endpoints[j]
		if x.Requests != y.Requests {
			return x.Requests > y.Requests
		}
		return x.EndpointKey < y.EndpointKey
	})

	for key, acc := range identities {
		report.TopIdentities = append(report.TopIdentities, domain.IdentityStat{
			Identity:          key,
			Requests:          acc.requests,
			DistinctEndpoints: len(acc.endpoints),
		})
	}
	sort.Slice(report.TopIdentities, func(i, j int) bool {
		x, y := report.TopIdentities[i], report.TopIdentities[j]
		if x.Requests != y.Requests {
			return x.Requests > y.Requests
		}
		return x.Identity < y.Identity
	})
	if len(report.TopIdentities) > a.topN {
		report.TopIdentities = report.TopIdentities[:a.topN]
	}

	for hour, count := range hourly {
		report.HourlyActivity = append(report.HourlyActivity, domain.ActivityPoint{
			Hour:  time.Unix(hour, 0).UTC(),
			Count: count,
		})
	}
	sort.Slice(report.HourlyActivity, func(i, j int) bool {
		return report.HourlyActivity[i].Hour.Before(report.HourlyActivity[j].Hour)
	})

	return report, nil
}
