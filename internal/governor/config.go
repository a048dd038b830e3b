package governor

import (
	"fmt"
	"time"

	"github.com/xela07ax/ratewarden/internal/domain"
)

// Config: неизменяемые настройки губернатора, собираются один раз при старте.
type Config struct {
	Policies      []domain.Policy
	GlobalDefault domain.Limit

	Retention     time.Duration
	SweepInterval time.Duration

	StatsHorizon time.Duration
	StatsTopN    int

	Breaker BreakerSettings
}

func DefaultConfig() Config {
	return Config{
		Policies:      DefaultPolicies(),
		GlobalDefault: DefaultGlobalLimit,
		Retention:     DefaultRetention,
		SweepInterval: DefaultSweepInterval,
		StatsHorizon:  DefaultStatsHorizon,
		StatsTopN:     DefaultTopN,
		Breaker:       DefaultBreakerSettings(),
	}
}

// Table собирает и проверяет таблицу политик. Пустой список: встроенная таблица сайта.
// Окно длиннее Retention не принимаем: sweeper и TTL в Redis стерли бы записи еще живого окна.
func (c Config) Table() (*PolicyTable, error) {
	policies := c.Policies
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	global := c.GlobalDefault
	if global == (domain.Limit{}) {
		global = DefaultGlobalLimit
	}
	table, err := NewPolicyTable(policies, global)
	if err != nil {
		return nil, err
	}

	if c.Retention > 0 {
		if global.Window() > c.Retention {
			return nil, fmt.Errorf("%w: global window %s exceeds retention %s", domain.ErrInvalidPolicy, global.Window(), c.Retention)
		}
		for _, p := range policies {
			if p.Window() > c.Retention {
				return nil, fmt.Errorf("%w: %s %s window %s exceeds retention %s",
					domain.ErrInvalidPolicy, p.Role, p.EndpointPrefix, p.Window(), c.Retention)
			}
		}
	}
	return table, nil
}
