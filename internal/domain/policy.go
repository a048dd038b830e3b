package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Role: уровень доверия к вызывающему. Порядок важен: guest < editor < admin.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Roles перечисляет роли от наименее к наиболее доверенной.
var Roles = []Role{RoleGuest, RoleEditor, RoleAdmin}

// DefaultEndpoint: ключ эндпоинта, когда ни один префикс не подошел.
const DefaultEndpoint = "default"

var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// ParseRole никогда не падает, все неизвестное считается самой низкой ролью.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleEditor:
		return RoleEditor
	default:
		return RoleGuest
	}
}

// Rank возвращает позицию роли в порядке доверия.
func (r Role) Rank() int {
	for i, role := range Roles {
		if role == r {
			return i
		}
	}
	return 0
}

func (r Role) Valid() bool {
	return r == RoleGuest || r == RoleEditor || r == RoleAdmin
}

// MaxWindowSeconds: самое длинное окно, которое Window() еще представляет без переполнения.
const MaxWindowSeconds = math.MaxInt64 / int64(time.Second)

// Limit: сколько запросов допускается за окно.
type Limit struct {
	Requests      int64 `json:"limit"`
	WindowSeconds int64 `json:"window_seconds"`
}

func (l Limit) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

func (l Limit) WindowMillis() int64 {
	return l.WindowSeconds * 1000
}

// TighterThan reports whether l admits strictly less traffic than other:
// a strictly lower rate and a limit that is not larger.
func (l Limit) TighterThan(other Limit) bool {
	// l.Requests/l.WindowSeconds < other.Requests/other.WindowSeconds без деления
	lowerRate := l.Requests*other.WindowSeconds < other.Requests*l.WindowSeconds
	return lowerRate && l.Requests <= other.Requests
}

func (l Limit) Validate() error {
	if l.Requests <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidPolicy, l.Requests)
	}
	if l.WindowSeconds <= 0 {
		return fmt.Errorf("%w: window must be positive, got %ds", ErrInvalidPolicy, l.WindowSeconds)
	}
	if l.WindowSeconds > MaxWindowSeconds {
		return fmt.Errorf("%w: window %ds does not fit time.Duration", ErrInvalidPolicy, l.WindowSeconds)
	}
	return nil
}

// Policy: правило ограничения частоты для пары (роль, префикс эндпоинта).
// Загружается один раз при старте и больше не меняется.
type Policy struct {
	EndpointPrefix string `json:"endpoint_prefix"`
	Role           Role   `json:"role"`
	Limit
}

func (p Policy) String() string {
	return fmt.Sprintf("%s %s: %d/%ds", p.Role, p.EndpointPrefix, p.Requests, p.WindowSeconds)
}
