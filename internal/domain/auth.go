package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims: то, что внешний сервис аутентификации кладет в токен.
// Губернатору нужны только user_id и role.
type CustomClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
