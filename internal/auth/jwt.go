package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleTeacher is the only role a dashboard token carries.
const RoleTeacher = "teacher"

// Token is a signed dashboard credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Claims represents JWT payload. Subject is the dashboard id; the upstream
// bearer token never leaves the server.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a dashboard token for dashboardID valid for ttl.
func Issue(dashboardID, name, issuer, key string, ttl time.Duration) (Token, error) {
	if dashboardID == "" {
		return Token{}, errors.New("dashboard id required")
	}
	now := time.Now()
	exp := now.Add(ttl)

	claims := Claims{
		Subject: dashboardID,
		Role:    RoleTeacher,
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   dashboardID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Role != RoleTeacher || claims.Subject == "" {
		return Claims{}, errors.New("not a dashboard token")
	}
	return *claims, nil
}
