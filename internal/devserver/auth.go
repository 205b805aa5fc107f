package devserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims the dev server issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// MintToken signs an HS256 admin token for subject valid for ttl from now.
func MintToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("mint token: empty secret")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: "admin",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return tok, nil
}

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorize checks the bearer token and the service credential header.
func (s *Server) authorize(r *http.Request) (*Claims, *authError) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		msg := "invalid bearer token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "bearer token expired"
		}
		return nil, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: msg}
	}
	if claims.Role != "admin" {
		return nil, &authError{status: http.StatusForbidden, code: "forbidden", message: "admin role required"}
	}

	key := r.Header.Get(s.cfg.ServiceHeader)
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.ServiceKey)) != 1 {
		return nil, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid service credential"}
	}
	return claims, nil
}
