package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when the held token's exp claim has passed.
var ErrTokenExpired = errors.New("gateway: token expired")

// TokenSource supplies the bearer token attached to remote calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenHolder holds the session token for one client. It is owned by the
// process root and injected into the gateway client.
//
// Tokens that parse as JWTs have their exp claim honoured; the signature is
// not verified here (the server does that). Opaque tokens never expire.
type TokenHolder struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenHolder returns a holder initialised with token (which may be empty).
func NewTokenHolder(token string) *TokenHolder {
	h := &TokenHolder{now: time.Now}
	h.Set(token)
	return h
}

// Set replaces the held token.
func (h *TokenHolder) Set(token string) {
	expiresAt := expiryOf(token)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
	h.expiresAt = expiresAt
}

// Clear drops the held token.
func (h *TokenHolder) Clear() {
	h.Set("")
}

// Token returns the held token, or ErrTokenExpired.
func (h *TokenHolder) Token(_ context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.expiresAt.IsZero() && !h.now().Before(h.expiresAt) {
		return "", ErrTokenExpired
	}
	return h.token, nil
}

// ExpiresAt returns the token's expiry if it carries one.
func (h *TokenHolder) ExpiresAt() (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.expiresAt, !h.expiresAt.IsZero()
}

func expiryOf(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
