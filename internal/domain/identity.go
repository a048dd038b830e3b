package domain

import "strings"

type IdentityKind string

const (
	KindUser    IdentityKind = "user"
	KindAddress IdentityKind = "ip"
)

// UnknownAddress используется, когда пайплайн не смог определить адрес клиента.
const UnknownAddress = "unknown"

// Identity непрозрачна для губернатора, важно только равенство.
type Identity struct {
	Kind  IdentityKind `json:"kind"`
	Value string       `json:"value"`
}

func (i Identity) String() string {
	return string(i.Kind) + ":" + i.Value
}

func (i Identity) IsZero() bool {
	return i.Value == ""
}

// ResolveIdentity: аутентифицированный пользователь важнее сетевого адреса.
func ResolveIdentity(userID, addr string) Identity {
	if id := strings.TrimSpace(userID); id != "" {
		return Identity{Kind: KindUser, Value: id}
	}
	if a := strings.TrimSpace(addr); a != "" {
		return Identity{Kind: KindAddress, Value: strings.ToLower(a)}
	}
	return Identity{Kind: KindAddress, Value: UnknownAddress}
}

// ParseIdentity разбирает каноническую форму "user:42" / "ip:10.0.0.1".
// Строка без известного префикса считается адресом. Адрес нормализуется как в ResolveIdentity.
func ParseIdentity(s string) Identity {
	s = strings.TrimSpace(s)
	if v, ok := strings.CutPrefix(s, string(KindUser)+":"); ok && v != "" {
		return Identity{Kind: KindUser, Value: v}
	}
	if v, ok := strings.CutPrefix(s, string(KindAddress)+":"); ok && strings.TrimSpace(v) != "" {
		return ResolveIdentity("", v)
	}
	return ResolveIdentity("", s)
}

// Caller: то, что адаптер идентификации отдает губернатору на каждый запрос.
type Caller struct {
	Identity Identity `json:"identity"`
	Role     Role     `json:"role"`
}

// NewCaller нормализует данные от внешнего резолвера: пустая личность
// превращается в адрес "unknown", неизвестная роль: в guest.
func NewCaller(userID, addr, role string) Caller {
	return Caller{
		Identity: ResolveIdentity(userID, addr),
		Role:     ParseRole(role),
	}
}
