package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/renjiajia-patsnap/llmdemo/internal/apperr"
	"github.com/renjiajia-patsnap/llmdemo/internal/cache"
)

const (
	tokenCacheKey = "token"
	expirySkew    = 30 * time.Second
)

type LoginFunc func(ctx context.Context) (string, error)

// TokenManager hands out the catalog bearer token, logging in again once the
// cached one expires. A failed login is retried exactly once.
type TokenManager struct {
	login  LoginFunc
	ttl    time.Duration
	tokens *cache.Memory[string]
	logger *slog.Logger
}

func NewTokenManager(login LoginFunc, ttl time.Duration, logger *slog.Logger) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{
		login:  login,
		ttl:    ttl,
		tokens: cache.NewMemory[string](),
		logger: logger,
	}
}

// SetClock swaps the clock used for token expiry.
func (m *TokenManager) SetClock(clock func() time.Time) {
	m.tokens.Clock = clock
}

func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if token, ok, _ := m.tokens.Get(ctx, tokenCacheKey); ok {
		return token, nil
	}

	token, err := m.login(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.WarnContext(ctx, "catalog login failed, retrying once", slog.Any("error", err))
		}
		token, err = m.login(ctx)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindAuth, "catalog.login", "credential exchange failed", err)
	}

	_ = m.tokens.Set(ctx, tokenCacheKey, token, m.ttlFor(token))
	if m.logger != nil {
		m.logger.InfoContext(ctx, "catalog token refreshed")
	}
	return token, nil
}

func (m *TokenManager) Invalidate() {
	_ = m.tokens.Delete(context.Background(), tokenCacheKey)
}

// ttlFor clamps the configured TTL to the token's own exp claim when the token
// is a JWT. The signature is not verified; the catalog owns that.
func (m *TokenManager) ttlFor(token string) time.Duration {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return m.ttl
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return m.ttl
	}
	remaining := exp.Sub(m.now()) - expirySkew
	if remaining <= 0 {
		return time.Second
	}
	if remaining < m.ttl {
		return remaining
	}
	return m.ttl
}

func (m *TokenManager) now() time.Time {
	if m.tokens.Clock != nil {
		return m.tokens.Clock()
	}
	return time.Now()
}
