package service

import (
	"github.com/xela07ax/ratewarden/internal/domain"
)

// PolicySource: неизменяемая таблица политик процесса.
type PolicySource interface {
	Policies() []domain.Policy
	GlobalDefault() domain.Limit
}

type PolicyView struct {
	GlobalDefault domain.Limit    `json:"global_default"`
	Policies      []domain.Policy `json:"policies"`
}

type PolicyService struct {
	table PolicySource
}

func NewPolicyService(table PolicySource) *PolicyService {
	return &PolicyService{table: table}
}

// GetAll возвращает действующую таблицу. Политики меняются только перезапуском с новым конфигом.
func (s *PolicyService) GetAll() PolicyView {
	return PolicyView{
		GlobalDefault: s.table.GlobalDefault(),
		Policies:      s.table.Policies(),
	}
}
