package governor

import "github.com/xela07ax/ratewarden/internal/domain"

// DefaultGlobalLimit применяется, только если у роли нет собственного default.
var DefaultGlobalLimit = domain.Limit{Requests: 60, WindowSeconds: 60}

// DefaultPolicies используется, если конфиг не задал свою таблицу.
func DefaultPolicies() []domain.Policy {
	p := func(role domain.Role, prefix string, limit, window int64) domain.Policy {
		return domain.Policy{
			EndpointPrefix: prefix,
			Role:           role,
			Limit:          domain.Limit{Requests: limit, WindowSeconds: window},
		}
	}

	return []domain.Policy{
		// Посетители сайта
		p(domain.RoleGuest, domain.DefaultEndpoint, 100, 60),
		p(domain.RoleGuest, "/api/auth/login", 5, 900),
		p(domain.RoleGuest, "/api/contact", 3, 3600),
		p(domain.RoleGuest, "/api/newsletter/subscribe", 3, 3600),
		p(domain.RoleGuest, "/api/documents", 30, 60),

		// Редакторы бэк-офиса
		p(domain.RoleEditor, domain.DefaultEndpoint, 300, 60),
		p(domain.RoleEditor, "/api/auth/login", 10, 900),
		p(domain.RoleEditor, "/api/admin", 120, 60),
		p(domain.RoleEditor, "/api/documents", 120, 60),
		p(domain.RoleEditor, "/api/newsletter/send", 5, 3600),

		// Администраторы
		p(domain.RoleAdmin, domain.DefaultEndpoint, 1000, 60),
		p(domain.RoleAdmin, "/api/auth/login", 20, 900),
		p(domain.RoleAdmin, "/api/admin", 600, 60),
		p(domain.RoleAdmin, "/api/documents", 600, 60),
		p(domain.RoleAdmin, "/api/newsletter/send", 20, 3600),
	}
}
