// Package auth turns bearer tokens into the caller identity jobs run as.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

var ErrUnauthenticated = errors.New("missing or invalid credentials")

// Claims are the token claims; the subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue signs a token for caller. It is used by tooling and tests; the
// identity provider issues production tokens with the same secret.
func (v *Verifier) Issue(caller jobs.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: caller.Email,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a token. Expiry is mandatory.
func (v *Verifier) Verify(tokenString string) (jobs.Caller, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(_ *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return jobs.Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return jobs.Caller{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return jobs.Caller{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return jobs.Caller{UserID: claims.Subject, Email: strings.ToLower(claims.Email)}, nil
}

// tokenFromRequest reads a bearer token from the Authorization header or,
// for websocket upgrades, the access_token query parameter.
func tokenFromRequest(r *http.Request) string {
	const bearerPrefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return r.URL.Query().Get("access_token")
}

// Middleware rejects unauthenticated requests with 401 and stores the
// caller in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			unauthorized(w, ErrUnauthenticated)
			return
		}
		caller, err := v.Verify(token)
		if err != nil {
			logger.Logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected token")
			unauthorized(w, ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller jobs.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (jobs.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(jobs.Caller)
	return caller, ok && caller.UserID != ""
}
