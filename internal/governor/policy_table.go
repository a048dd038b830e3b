package governor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xela07ax/ratewarden/internal/domain"
)

// PolicyTable: неизменяемая таблица политик, собранная и проверенная при старте.
// В рантайме только читается, поэтому блокировки не нужны.
type PolicyTable struct {
	// Кэш: роль -> политики по убыванию длины префикса (без default)
	byRole   map[domain.Role][]domain.Policy
	exact    map[domain.Role]map[string]domain.Policy
	defaults map[domain.Role]domain.Limit
	global   domain.Limit
	all      []domain.Policy
}

// NewPolicyTable проверяет набор политик целиком и возвращает все найденные ошибки сразу.
// Ошибка конфигурации фатальна: процесс не должен стартовать с такой таблицей.
func NewPolicyTable(policies []domain.Policy, global domain.Limit) (*PolicyTable, error) {
	t := &PolicyTable{
		byRole:   make(map[domain.Role][]domain.Policy),
		exact:    make(map[domain.Role]map[string]domain.Policy),
		defaults: make(map[domain.Role]domain.Limit),
		global:   global,
	}

	var errs []error
	if err := global.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("global default: %w", err))
	}

	for _, p := range policies {
		if !p.Role.Valid() {
			errs = append(errs, fmt.Errorf("%w: unknown role %q for %s", domain.ErrInvalidPolicy, p.Role, p.EndpointPrefix))
			continue
		}
		if p.EndpointPrefix == "" {
			errs = append(errs, fmt.Errorf("%w: empty endpoint prefix for role %s", domain.ErrInvalidPolicy, p.Role))
			continue
		}
		if err := p.Limit.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}

		if p.EndpointPrefix != domain.DefaultEndpoint {
			p.EndpointPrefix = NormalizePath(p.EndpointPrefix)
		}

		if t.exact[p.Role] == nil {
			t.exact[p.Role] = make(map[string]domain.Policy)
		}
		if _, dup := t.exact[p.Role][p.EndpointPrefix]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate entry %s for role %s", domain.ErrInvalidPolicy, p.EndpointPrefix, p.Role))
			continue
		}
		t.exact[p.Role][p.EndpointPrefix] = p
		t.all = append(t.all, p)

		if p.EndpointPrefix == domain.DefaultEndpoint {
			t.defaults[p.Role] = p.Limit
			continue
		}
		t.byRole[p.Role] = append(t.byRole[p.Role], p)
	}

	for _, role := range domain.Roles {
		if _, ok := t.defaults[role]; !ok {
			errs = append(errs, fmt.Errorf("%w: role %s has no default entry", domain.ErrInvalidPolicy, role))
		}
		list := t.byRole[role]
		sort.SliceStable(list, func(i, j int) bool {
			return len(list[i].EndpointPrefix) > len(list[j].EndpointPrefix)
		})
	}

	errs = append(errs, t.checkRoleOrdering()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.SliceStable(t.all, func(i, j int) bool {
		if t.all[i].EndpointPrefix != t.all[j].EndpointPrefix {
			return t.all[i].EndpointPrefix < t.all[j].EndpointPrefix
		}
		return t.all[i].Role.Rank() < t.all[j].Role.Rank()
	})
	return t, nil
}

// checkRoleOrdering: для каждого ключа, заданного у нескольких ролей,
// guest строго жестче editor, а editor строго жестче admin.
func (t *PolicyTable) checkRoleOrdering() []error {
	var errs []error
	keys := make(map[string]struct{})
	for _, m := range t.exact {
		for k := range m {
			keys[k] = struct{}{}
		}
	}

	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	for _, key := range sortedKeys {
		for i, lower := range domain.Roles {
			lp, ok := t.exact[lower][key]
			if !ok {
				continue
			}
			for _, higher := range domain.Roles[i+1:] {
				hp, ok := t.exact[higher][key]
				if !ok {
					continue
				}
				if !lp.Limit.TighterThan(hp.Limit) {
					errs = append(errs, fmt.Errorf("%w: %s must be strictly tighter than %s on %s (%d/%ds vs %d/%ds)",
						domain.ErrInvalidPolicy, lower, higher, key,
						lp.Requests, lp.WindowSeconds, hp.Requests, hp.WindowSeconds))
				}
			}
		}
	}
	return errs
}

// Resolve: точная запись роли -> самый длинный префикс роли -> default роли -> глобальный default.
// Неизвестная роль трактуется как guest.
func (t *PolicyTable) Resolve(role domain.Role, endpointKey string) domain.Policy {
	if !role.Valid() {
		role = domain.RoleGuest
	}

	// 1. Точное совпадение
	if p, ok := t.exact[role][endpointKey]; ok {
		return p
	}

	// 2. Самый длинный префикс среди записей роли
	for _, p := range t.byRole[role] {
		if hasSegmentPrefix(endpointKey, p.EndpointPrefix) {
			return p
		}
	}

	// 3. Default роли
	if l, ok := t.defaults[role]; ok {
		return domain.Policy{EndpointPrefix: domain.DefaultEndpoint, Role: role, Limit: l}
	}

	// 4. Глобальный default
	return domain.Policy{EndpointPrefix: domain.DefaultEndpoint, Role: role, Limit: t.global}
}

// Prefixes собирает префиксы всех ролей для классификатора.
func (t *PolicyTable) Prefixes() []string {
	var out []string
	for _, list := range t.byRole {
		for _, p := range list {
			out = append(out, p.EndpointPrefix)
		}
	}
	sort.Strings(out)
	return out
}

// Policies возвращает копию всех записей, отсортированную по префиксу и роли.
func (t *PolicyTable) Policies() []domain.Policy {
	out := make([]domain.Policy, len(t.all))
	copy(out, t.all)
	return out
}

func (t *PolicyTable) GlobalDefault() domain.Limit {
	return t.global
}
