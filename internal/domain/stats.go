package domain

import "time"

// StatsReport: сводка по хранилищу учета за выбранный горизонт.
type StatsReport struct {
	HorizonSeconds int64           `json:"horizon_seconds"`
	GeneratedAt    time.Time       `json:"generated_at"`
	TotalRequests  int64           `json:"total_requests"`
	Endpoints      []EndpointStat  `json:"endpoints"`
	TopIdentities  []IdentityStat  `json:"top_identities"`
	HourlyActivity []ActivityPoint `json:"hourly_activity"`
}

type EndpointStat struct {
	EndpointKey        string `json:"endpoint_key"`
	Requests           int64  `json:"requests"`
	DistinctIdentities int    `json:"distinct_identities"`
}

type IdentityStat struct {
	Identity          string `json:"identity"`
	Requests          int64  `json:"requests"`
	DistinctEndpoints int    `json:"distinct_endpoints"`
}

type ActivityPoint struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}
