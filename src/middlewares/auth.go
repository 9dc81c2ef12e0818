package middlewares

import (
	"daypass/src/config"
	"daypass/src/types"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const RoleAdmin = "admin"

// AdminAuth accepts HS256 bearer tokens whose role is admin. The token's org
// claim scopes every admin request and is exposed as "org".
func AdminAuth(ctx *gin.Context) {
	bearerToken := ctx.Request.Header.Get("Authorization")
	reqToken, ok := strings.CutPrefix(bearerToken, "Bearer ")
	if !ok || strings.TrimSpace(reqToken) == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	claims := &types.Claims{}
	tkn, err := jwt.ParseWithClaims(reqToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return config.JWTSecret(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		if err != nil {
			log.Printf("[Auth] token error: %s\n", err.Error())
		}
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if claims.Role != RoleAdmin {
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	if claims.Organization == "" {
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token has no organization"})
		return
	}
	ctx.Set("username", claims.Username)
	ctx.Set("org", claims.Organization)
	ctx.Set("role", claims.Role)
}
