// Package auth implements the API-key and JWT verification shared by the
// Gateway and the Memory Service: a single static internal service key
// checked in constant time, and a JWT secret used to sign and verify
// end-user tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingAPIKey maps to a "Missing API key" 401 response.
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrInvalidAPIKey maps to an "Invalid API key" 401 response.
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrInvalidToken  = errors.New("invalid token")
)

// Verifier checks the X-API-Key header used by every internal HTTP route
// with constant-time comparison.
type Verifier struct {
	key []byte
}

// NewVerifier builds a Verifier for the configured internal API key.
func NewVerifier(key string) *Verifier {
	return &Verifier{key: []byte(key)}
}

// Check validates a presented key against the configured one.
func (v *Verifier) Check(presented string) error {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return ErrMissingAPIKey
	}
	if len(v.key) == 0 || subtle.ConstantTimeCompare([]byte(presented), v.key) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// Claims is the JWT payload issued/verified for the Gateway's query-token
// and subprotocol-token auth paths.
type Claims struct {
	ClientID string `json:"clientId,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with the configured secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a JWTVerifier for the configured secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Sign issues a token for clientID, used by test harnesses and admin tools
// rather than the runtime itself (end users obtain tokens out of band).
func (j *JWTVerifier) Sign(clientID string, expiry time.Duration) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("auth: jwt secret not configured")
	}
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Verify parses and validates token, returning the embedded client id.
func (j *JWTVerifier) Verify(token string) (string, error) {
	if len(j.secret) == 0 {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// LooksLikeJWT reports whether s has the three dot-separated base64url
// segments the Gateway's Sec-WebSocket-Protocol auth path looks for,
// without fully validating it.
func LooksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
