// Package jwt выпускает и проверяет bearer-токены операторов.
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin роль оператора, которому разрешены административные маршруты.
const RoleAdmin = "admin"

// Claims данные, хранящиеся в токене оператора.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin сообщает, выдан ли токен оператору.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
