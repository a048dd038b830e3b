package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/ratewarden/internal/domain"
)

// ClockSkew: допуск на расхождение часов с сервисом аутентификации.
const ClockSkew = 30 * time.Second

var ErrEmptySubject = errors.New("invalid claims: empty user_id")

// BaseValidator проверяет токены внешнего сервиса аутентификации (RS256).
// Токен без exp не принимаем: иначе утекший токен навсегда снимает гостевой лимит.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(ClockSkew),
		),
	}
}

// VerifyToken принимает значение Authorization целиком или голый токен.
// Роль в claims приводится к нижнему регистру, неизвестную роль разбирает domain.NewCaller.
func (v *BaseValidator) VerifyToken(header string) (*domain.CustomClaims, error) {
	raw := strings.TrimSpace(header)
	if scheme, rest, ok := strings.Cut(raw, " "); ok && strings.EqualFold(scheme, "Bearer") {
		raw = strings.TrimSpace(rest)
	}
	if raw == "" {
		return nil, errors.New("invalid token: empty")
	}

	claims := &domain.CustomClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrEmptySubject
	}
	claims.Role = strings.ToLower(strings.TrimSpace(claims.Role))
	return claims, nil
}

// ParseRSAPublicKey: ключ из файла (PEM) или из ENV, где его часто кладут в base64.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, errors.New("public key data is empty")
	}
	if !strings.HasPrefix(string(data), "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("public key is neither PEM nor base64: %w", err)
		}
		data = decoded
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
