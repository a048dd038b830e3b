package governor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
)

func pol(role domain.Role, prefix string, limit, window int64) domain.Policy {
	return domain.Policy{EndpointPrefix: prefix, Role: role, Limit: domain.Limit{Requests: limit, WindowSeconds: window}}
}

func defaultsFor(limits ...int64) []domain.Policy {
	return []domain.Policy{
		pol(domain.RoleGuest, "default", limits[0], 60),
		pol(domain.RoleEditor, "default", limits[1], 60),
		pol(domain.RoleAdmin, "default", limits[2], 60),
	}
}

func TestDefaultPoliciesAreValid(t *testing.T) {
	table, err := DefaultConfig().Table()
	require.NoError(t, err)
	assert.Len(t, table.Policies(), len(DefaultPolicies()))
}

func TestResolve(t *testing.T) {
	policies := append(defaultsFor(100, 300, 1000),
		pol(domain.RoleGuest, "/api/auth/login", 5, 900),
		pol(domain.RoleGuest, "/api/documents", 30, 60),
		pol(domain.RoleGuest, "/api/documents/:id/download", 10, 60),
		pol(domain.RoleAdmin, "/api/documents", 600, 60),
	)
	table, err := NewPolicyTable(policies, DefaultGlobalLimit)
	require.NoError(t, err)

	tests := []struct {
		name   string
		role   domain.Role
		key    string
		prefix string
		limit  int64
	}{
		{"exact", domain.RoleGuest, "/api/auth/login", "/api/auth/login", 5},
		{"longest prefix", domain.RoleGuest, "/api/documents/:id/download", "/api/documents/:id/download", 10},
		{"shorter prefix covers", domain.RoleGuest, "/api/documents/:id", "/api/documents", 30},
		{"role default", domain.RoleEditor, "/api/documents", "default", 300},
		{"unknown role is guest", domain.Role("root"), "/api/auth/login", "/api/auth/login", 5},
		{"default key", domain.RoleAdmin, "default", "default", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := table.Resolve(tt.role, tt.key)
			assert.Equal(t, tt.prefix, p.EndpointPrefix)
			assert.Equal(t, tt.limit, p.Requests)
		})
	}
}

func TestNewPolicyTableRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		policies []domain.Policy
		global   domain.Limit
		contains []string
	}{
		{
			name:     "missing role default",
			policies: defaultsFor(100, 300, 1000)[:2],
			global:   DefaultGlobalLimit,
			contains: []string{"role admin has no default"},
		},
		{
			name:     "non-positive limit and window",
			policies: append(defaultsFor(100, 300, 1000), pol(domain.RoleGuest, "/api/contact", 0, 0)),
			global:   DefaultGlobalLimit,
			contains: []string{"limit must be positive"},
		},
		{
			name: "duplicate entry",
			policies: append(defaultsFor(100, 300, 1000),
				pol(domain.RoleGuest, "/api/contact", 3, 3600),
				pol(domain.RoleGuest, "/API/contact/", 4, 3600)),
			global:   DefaultGlobalLimit,
			contains: []string{"duplicate entry /api/contact"},
		},
		{
			name:     "unknown role",
			policies: append(defaultsFor(100, 300, 1000), pol(domain.Role("root"), "/api", 1, 1)),
			global:   DefaultGlobalLimit,
			contains: []string{`unknown role "root"`},
		},
		{
			name:     "invalid global default",
			policies: defaultsFor(100, 300, 1000),
			global:   domain.Limit{Requests: 1},
			contains: []string{"global default", "window must be positive"},
		},
		{
			name:     "guest looser than editor",
			policies: defaultsFor(300, 100, 1000),
			global:   DefaultGlobalLimit,
			contains: []string{"guest must be strictly tighter than editor on default"},
		},
		{
			name: "equal rate is not strictly tighter",
			policies: append(defaultsFor(100, 300, 1000),
				pol(domain.RoleEditor, "/api/auth/login", 10, 900),
				pol(domain.RoleAdmin, "/api/auth/login", 10, 900)),
			global:   DefaultGlobalLimit,
			contains: []string{"editor must be strictly tighter than admin on /api/auth/login"},
		},
		{
			name: "lower rate but larger burst",
			policies: append(defaultsFor(100, 300, 1000),
				pol(domain.RoleGuest, "/api/documents", 50, 3600),
				pol(domain.RoleEditor, "/api/documents", 20, 60)),
			global:   DefaultGlobalLimit,
			contains: []string{"guest must be strictly tighter than editor on /api/documents"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewPolicyTable(tt.policies, tt.global)
			require.Error(t, err)
			assert.Nil(t, table)
			assert.True(t, errors.Is(err, domain.ErrInvalidPolicy))
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestNewPolicyTableReportsAllErrors(t *testing.T) {
	policies := []domain.Policy{
		pol(domain.RoleGuest, "default", 300, 60),
		pol(domain.RoleEditor, "default", 100, 60),
		pol(domain.RoleGuest, "/api/contact", -1, 60),
	}
	_, err := NewPolicyTable(policies, DefaultGlobalLimit)
	require.Error(t, err)

	// нет default у admin, отрицательный лимит, нарушен порядок ролей
	assert.Equal(t, 3, len(strings.Split(err.Error(), "\n")))
}

func TestTableRejectsWindowLongerThanRetention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = 30 * time.Minute

	// у входа окно 900s: помещается
	cfg.Policies = append(defaultsFor(100, 300, 1000), pol(domain.RoleGuest, "/api/auth/login", 5, 900))
	_, err := cfg.Table()
	require.NoError(t, err)

	cfg.Policies = append(defaultsFor(100, 300, 1000), pol(domain.RoleGuest, "/api/contact", 3, 3600))
	_, err = cfg.Table()
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
	assert.ErrorContains(t, err, "retention")

	// встроенная таблица укладывается в 2h, глобальное окно нет
	cfg.Policies = nil
	cfg.Retention = 2 * time.Hour
	cfg.GlobalDefault = domain.Limit{Requests: 60, WindowSeconds: 3 * 3600}
	_, err = cfg.Table()
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}
