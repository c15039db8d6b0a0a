package jwtutil

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims is the access token issued by the member portal. Only the user id
// and role are read here; user management lives in the portal.
type Claims struct {
	UserID       string `json:"uid"`
	Role         string `json:"role"`
	LegacyUserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func NewClaims(userID, role string, expiry time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}

func GenerateAccessToken(claims *Claims, privateKey *rsa.PrivateKey) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(privateKey)
}

func ParseAccessToken(tokenStr string, publicKey *rsa.PublicKey) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.UserID == "" {
		claims.UserID = claims.LegacyUserID
	}
	return claims, nil
}

// LoadPublicKey parses the PEM given inline, or read from path when pemText
// is blank.
func LoadPublicKey(pemText, path string) (*rsa.PublicKey, error) {
	pemText = strings.TrimSpace(pemText)
	if pemText == "" && strings.TrimSpace(path) != "" {
		// #nosec G304 -- path is provided by operator config.
		raw, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		pemText = string(raw)
	}
	if pemText == "" {
		return nil, errors.New("jwt public key not configured")
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(pemText))
}
