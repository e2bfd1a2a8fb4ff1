// Package auth is the dashboard's single-operator authentication: a bcrypt
// password hash checked against configuration and a short-lived HS256 JWT
// issued on success. Grounded on the teacher's internal/app/httpapi
// login/auth.go (Authenticate/Issue shape, JWT claims/validator split)
// adapted from multi-user sessions to the arbiter's single configured
// operator account (spec §9 `dashboard.password_hash`).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized covers a bad password or an invalid/expired token.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Claims is the dashboard session token's payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager checks the operator password and issues/validates session JWTs.
type Manager struct {
	passwordHash []byte
	secret       []byte
	expiry       time.Duration
}

// New constructs a Manager. passwordHash is a bcrypt hash (spec §9
// `dashboard.password_hash`, produced ahead of time, e.g. with
// HashPassword; never a plaintext password in configuration).
func New(passwordHash, secret string, expiry time.Duration) *Manager {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Manager{passwordHash: []byte(passwordHash), secret: []byte(secret), expiry: expiry}
}

// HashPassword produces a bcrypt hash suitable for the configured
// `dashboard.password_hash` from an operator-supplied password. No
// arbiterctl command calls it; `arbiterctl conf` writes an empty hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate checks password against the configured hash and, on
// success, issues a session token.
func (m *Manager) Authenticate(password string) (string, time.Time, error) {
	if len(m.passwordHash) == 0 {
		return "", time.Time{}, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	return m.issue()
}

func (m *Manager) issue() (string, time.Time, error) {
	exp := time.Now().Add(m.expiry)
	claims := &Claims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "arbiterd-dashboard",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate parses and verifies a session token previously issued by Authenticate.
func (m *Manager) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
