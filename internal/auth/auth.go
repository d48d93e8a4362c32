// Package auth is the operator console's authentication layer (§4.6):
// argon2id password hashing and JWT issuance/validation for console
// operators.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// Claims is the JWT payload for an authenticated operator.
type Claims struct {
	OperatorID int    `json:"operator_id"`
	Username   string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and validates operator JWTs and hashes/verifies operator
// passwords with argon2id.
type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

// New returns a Service signing tokens with jwtSecret and a 24-hour expiry.
func New(jwtSecret string) *Service {
	return &Service{jwtSecret: []byte(jwtSecret), tokenTTL: 24 * time.Hour}
}

// HashPassword encodes a salt+argon2id hash as "<saltB64>$<hashB64>".
func (s *Service) HashPassword(password string) string {
	salt := make([]byte, saltLen)
	_, _ = rand.Read(salt)
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash)
}

// VerifyPassword checks password against a hash produced by HashPassword.
func (s *Service) VerifyPassword(password, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IssueToken signs a Claims token for operatorID/username, valid for the
// Service's tokenTTL.
func (s *Service) IssueToken(operatorID int, username string) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(s.tokenTTL)
	claims := &Claims{
		OperatorID: operatorID,
		Username:   username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   username,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	return signed, expiresAt, err
}

// ValidateToken parses and validates a bearer token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
