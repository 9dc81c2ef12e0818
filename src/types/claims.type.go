package types

import "github.com/golang-jwt/jwt/v4"

// Claims carried by admin bearer tokens.
type Claims struct {
	Username     string   `json:"username"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	Organization string   `json:"org"`
	jwt.RegisteredClaims
}
