package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config: корневая структура конфигурации губернатора.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Governor GovernorConfig `mapstructure:"governor"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает HTTP-шлюз перед сайтом.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Upstream: адрес сайта, которому шлюз проксирует пропущенные запросы
	Upstream string `mapstructure:"upstream"`
	// CheckTimeout: сколько check может ждать хранилище, дальше fail open
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	// TrustedProxies: CIDR балансировщиков, которым разрешено передавать адрес клиента заголовком
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// ConsoleConfig: админский API (сброс, статистика, политики).
type ConsoleConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StoreConfig выбирает реализацию хранилища учета.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, redis, postgres
	// PingAttempts: сколько раз пинговать хранилище при старте
	PingAttempts uint `mapstructure:"ping_attempts"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL        string  `mapstructure:"url"`
	MaxConns   int32   `mapstructure:"max_conns"`
	SweepBatch int     `mapstructure:"sweep_batch"`
	SweepRate  float64 `mapstructure:"sweep_rate"`
}

// RedisConfig описывает подключение к Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LimitConfig struct {
	Limit  int64 `mapstructure:"limit"`
	Window int64 `mapstructure:"window"` // секунды
}

type PolicyConfig struct {
	Role   string `mapstructure:"role"`
	Prefix string `mapstructure:"prefix"`
	Limit  int64  `mapstructure:"limit"`
	Window int64  `mapstructure:"window"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

type ClassifyCacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	LifeWindow time.Duration `mapstructure:"life_window"`
	MaxSizeMB  int           `mapstructure:"max_size_mb"`
}

// GovernorConfig: таблица политик и фоновые задачи.
type GovernorConfig struct {
	Policies      []PolicyConfig      `mapstructure:"policies"`
	GlobalDefault LimitConfig         `mapstructure:"global_default"`
	Retention     time.Duration       `mapstructure:"retention"`
	SweepInterval time.Duration       `mapstructure:"sweep_interval"`
	SweepLock     bool                `mapstructure:"sweep_lock"`
	StatsHorizon  time.Duration       `mapstructure:"stats_horizon"`
	StatsTopN     int                 `mapstructure:"stats_top_n"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	ClassifyCache ClassifyCacheConfig `mapstructure:"classify_cache"`
}

// AuthConfig содержит публичный ключ внешнего сервиса аутентификации.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	// File: если задан, логи дополнительно пишутся в файл с ротацией
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path может быть пустым: тогда ищем config.yaml в . и ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")    // имя файла без расширения
		v.SetConfigType("yaml")      // формат
		v.AddConfigPath(".")         // ищем в корне
		v.AddConfigPath("./configs") // и в папке с конфигами
	}

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: STORE_DRIVER=redis перекроет store.driver
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет: работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	switch cfg.Store.Driver {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if _, err := auth.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	// 6. Ключ из ENV (Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.upstream", "http://localhost:3000")
	v.SetDefault("server.check_timeout", 50*time.Millisecond)
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("console.port", 8081)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.ping_attempts", 5)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.sweep_batch", 5000)
	v.SetDefault("database.sweep_rate", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("governor.global_default.limit", governor.DefaultGlobalLimit.Requests)
	v.SetDefault("governor.global_default.window", governor.DefaultGlobalLimit.WindowSeconds)
	v.SetDefault("governor.retention", governor.DefaultRetention)
	v.SetDefault("governor.sweep_interval", governor.DefaultSweepInterval)
	v.SetDefault("governor.sweep_lock", true)
	v.SetDefault("governor.stats_horizon", governor.DefaultStatsHorizon)
	v.SetDefault("governor.stats_top_n", governor.DefaultTopN)
	v.SetDefault("governor.breaker.max_requests", 3)
	v.SetDefault("governor.breaker.interval", 5*time.Second)
	v.SetDefault("governor.breaker.timeout", 30*time.Second)
	v.SetDefault("governor.breaker.consecutive_failures", 5)
	v.SetDefault("governor.classify_cache.enabled", true)
	v.SetDefault("governor.classify_cache.life_window", 10*time.Minute)
	v.SetDefault("governor.classify_cache.max_size_mb", 16)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)
}

// ToGovernor переводит секцию governor в неизменяемый governor.Config.
// Пустой список политик: встроенная таблица сайта.
func (g GovernorConfig) ToGovernor() governor.Config {
	cfg := governor.DefaultConfig()

	if len(g.Policies) > 0 {
		cfg.Policies = make([]domain.Policy, 0, len(g.Policies))
		for _, p := range g.Policies {
			// Роль здесь не нормализуем: опечатка в конфиге должна уронить старт, а не стать guest
			cfg.Policies = append(cfg.Policies, domain.Policy{
				EndpointPrefix: p.Prefix,
				Role:           domain.Role(strings.ToLower(strings.TrimSpace(p.Role))),
				Limit:          domain.Limit{Requests: p.Limit, WindowSeconds: p.Window},
			})
		}
	}
	if g.GlobalDefault.Limit != 0 || g.GlobalDefault.Window != 0 {
		cfg.GlobalDefault = domain.Limit{Requests: g.GlobalDefault.Limit, WindowSeconds: g.GlobalDefault.Window}
	}
	if g.Retention > 0 {
		cfg.Retention = g.Retention
	}
	if g.SweepInterval > 0 {
		cfg.SweepInterval = g.SweepInterval
	}
	if g.StatsHorizon > 0 {
		cfg.StatsHorizon = g.StatsHorizon
	}
	if g.StatsTopN > 0 {
		cfg.StatsTopN = g.StatsTopN
	}
	if g.Breaker.MaxRequests > 0 {
		cfg.Breaker = governor.BreakerSettings{
			MaxRequests:         g.Breaker.MaxRequests,
			Interval:            g.Breaker.Interval,
			Timeout:             g.Breaker.Timeout,
			ConsecutiveFailures: g.Breaker.ConsecutiveFailures,
		}
	}
	return cfg
}

// loadKeyResource: универсальный хелпер архитектора
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
