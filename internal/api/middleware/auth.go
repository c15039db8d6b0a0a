package middleware

import (
	"crypto/rsa"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"gleeworld-hub/internal/api/response"
	jwtutil "gleeworld-hub/pkg/jwt"
)

const claimsContextKey = "claims"

type Claims = jwtutil.Claims

// JWTAuth verifies the RS256 access token issued by the member portal. A nil
// key rejects every request.
func JWTAuth(publicKey *rsa.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := GetClaims(c); ok && claims != nil {
			c.Next()
			return
		}

		claims, code, ok := authenticate(c, publicKey)
		if !ok {
			message := "unauthorized"
			if code == response.ErrTokenExpired {
				message = "token expired"
			}
			response.Fail(c, 401, code, message)
			c.Abort()
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// OptionalJWTAuth stores the caller's claims when a valid token is present
// and lets anonymous requests through.
func OptionalJWTAuth(publicKey *rsa.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, _, ok := authenticate(c, publicKey); ok {
			c.Set(claimsContextKey, claims)
		}
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(roles) == 0 {
			c.Next()
			return
		}

		claims, ok := GetClaims(c)
		if !ok {
			response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		for _, role := range roles {
			if strings.EqualFold(claims.Role, role) {
				c.Next()
				return
			}
		}

		response.Fail(c, 403, response.ErrForbidden, "forbidden")
		c.Abort()
	}
}

func GetClaims(c *gin.Context) (*Claims, bool) {
	val, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

func authenticate(c *gin.Context, publicKey *rsa.PublicKey) (*Claims, int, bool) {
	tokenString := tokenFromRequest(c)
	if tokenString == "" || publicKey == nil {
		return nil, response.ErrUnauthorized, false
	}

	claims, err := jwtutil.ParseAccessToken(tokenString, publicKey)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, response.ErrTokenExpired, false
		}
		return nil, response.ErrUnauthorized, false
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, response.ErrUnauthorized, false
	}
	return claims, 0, true
}

func tokenFromRequest(c *gin.Context) string {
	if cookieToken, err := c.Cookie("access_token"); err == nil && cookieToken != "" {
		return cookieToken
	}

	return bearerTokenFromRequest(c.GetHeader("Authorization"))
}
