// Package auth resolves the calling user from a bearer JWT.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"burnrate/internal/core"
	"burnrate/internal/log"
)

type ctxKey struct{}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: 30 * time.Second}
}

// UserID returns the subject of a valid token.
func (v *Verifier) UserID(raw string) (string, error) {
	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(v.leeway))
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: token has no subject", core.ErrUnauthorized)
	}
	return sub, nil
}

// Issue signs a token for userID. Used by tooling and tests.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// user id on the request context.
func (v *Verifier) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.FromContext(r.Context()).WithComponent(log.ComponentAuth)

			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				logger.Debug("Authorization header missing", log.FieldPath, r.URL.Path)
				onError(w, r, core.ErrUnauthorized)
				return
			}
			userID, err := v.UserID(raw)
			if err != nil {
				logger.Warn("Token validation failed", log.FieldPath, r.URL.Path, log.FieldError, err)
				onError(w, r, err)
				return
			}

			ctx := WithUser(r.Context(), userID)
			ctx = log.NewContext(ctx, log.FromContext(r.Context()).WithUser(userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFrom returns the authenticated user id.
func UserFrom(ctx context.Context) (string, error) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", errors.New("no user on context")
	}
	return id, nil
}
