package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// GenerateToken signs an HS256 access token for id. Email and name are
// written under the namespaced claim keys, the way external providers do.
func GenerateToken(id Identity, namespace string, secretKey []byte, validityDuration time.Duration) (string, error) {
	if id.IsZero() {
		return "", fmt.Errorf("%w: empty subject", common.ErrValidation)
	}

	claims := jwt.MapClaims{
		"sub": id.Subject,
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(time.Now().Add(validityDuration)),
	}
	if id.Email != "" {
		claims[namespace+"email"] = id.Email
	}
	if id.Name != "" {
		claims["name"] = id.Name
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseIdentity validates tokenString and resolves the identity it carries.
func ParseIdentity(tokenString string, namespace string, secretKey []byte) (Identity, error) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, common.ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return Identity{}, common.ErrInvalidToken
	}

	id := ResolveIdentity(claims, namespace)
	if id.IsZero() {
		return Identity{}, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}

	return id, nil
}
