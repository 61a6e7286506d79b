package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/tenant-jobs/internal/jobs"
)

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(jobs.Caller{UserID: "user-1", Email: "Ann@Example.com"}, time.Minute)
	require.NoError(t, err)

	caller, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", caller.UserID)
	assert.Equal(t, "ann@example.com", caller.Email)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	expired, err := v.Issue(jobs.Caller{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	other, err := NewVerifier("other").Issue(jobs.Caller{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	noSubject, err := v.Issue(jobs.Caller{}, time.Minute)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": other,
		"no expiry":    noExpiry,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(jobs.Caller{UserID: "user-1", Email: "a@x.io"}, time.Minute)
	require.NoError(t, err)

	var seen jobs.Caller
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		seen = caller
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "user-1", seen.UserID)
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"missing or invalid credentials"}`, rec.Body.String())
	})
}
