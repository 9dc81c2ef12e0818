package middlewares

import (
	"daypass/src/config"
	"daypass/src/types"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// NewAdminToken signs an admin bearer token for org, valid for ttl.
func NewAdminToken(username, org string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &types.Claims{
		Username:     username,
		Role:         RoleAdmin,
		Organization: org,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(config.JWTSecret())
}
