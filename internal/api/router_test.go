package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/tenant-jobs/internal/auth"
	"github.com/mtr002/tenant-jobs/internal/handlers"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/memory"
)

type testAPI struct {
	handler  http.Handler
	verifier *auth.Verifier
	channel  *memory.Channel
}

func newTestAPI(t *testing.T, checkers ...Checker) *testAPI {
	t.Helper()
	data := memory.NewData()
	settings := jobs.DefaultSettings()
	registry := handlers.NewRegistry(handlers.Deps{Repos: data.Repositories()})
	store := jobs.NewStore(memory.NewRecordStore(), settings)
	channel := memory.NewChannel()
	verifier := auth.NewVerifier("test-secret")

	h := NewRouter(Deps{
		Manager:     jobs.NewManager(store, channel, registry, settings),
		Reader:      jobs.NewReader(store),
		Verifier:    verifier,
		Checkers:    checkers,
		CORSOrigins: []string{"*"},
	})
	return &testAPI{handler: h, verifier: verifier, channel: channel}
}

func (a *testAPI) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		token, err := a.verifier.Issue(jobs.Caller{UserID: userID, Email: userID + "@example.com"}, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) jobs.Status {
	t.Helper()
	var s jobs.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/jobs/company-listing", "user-1", `{"chunkSize":50}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decodeStatus(t, rec)
	assert.NotEmpty(t, created.JobID)
	assert.Equal(t, jobs.StatusPending, created.Status)
	assert.False(t, created.Done)
	assert.Equal(t, "/v1/jobs/company-listing/"+created.JobID, rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get(correlationHeader))
	assert.Equal(t, 1, a.channel.Len(jobs.KindCompanyListing.Queue()))

	rec = a.do(t, http.MethodGet, "/v1/jobs/company-listing/"+created.JobID, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeStatus(t, rec)
	assert.Equal(t, created.JobID, got.JobID)
	assert.Contains(t, rec.Body.String(), `"nextCursor":null`)
}

func TestCreateJob_EmptyBodyUsesDefaults(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/jobs/user-deletion", "user-1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/jobs/invite-listing", "owner", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decodeStatus(t, rec).JobID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		want   int
	}{
		{"missing token", http.MethodPost, "/v1/jobs/user-search", "", `{"query":"a"}`, http.StatusUnauthorized},
		{"unknown kind", http.MethodPost, "/v1/jobs/reticulate-splines", "user-1", `{}`, http.StatusNotFound},
		{"missing query", http.MethodPost, "/v1/jobs/user-search", "user-1", `{}`, http.StatusBadRequest},
		{"negative chunk", http.MethodPost, "/v1/jobs/user-search", "user-1", `{"query":"a","chunkSize":-1}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/v1/jobs/user-search", "user-1", `{"query":`, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/v1/jobs/invite-listing/does-not-exist", "owner", "", http.StatusNotFound},
		{"wrong kind", http.MethodGet, "/v1/jobs/user-search/" + jobID, "owner", "", http.StatusNotFound},
		{"other user", http.MethodGet, "/v1/jobs/invite-listing/" + jobID, "intruder", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusFor_InternalErrorsAreHidden(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("redis: connection refused")))

	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("redis: connection refused"))
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	healthy := Checker{Name: "redis", Check: func(context.Context) error { return nil }}
	broken := Checker{Name: "nats", Check: func(context.Context) error { return errors.New("no servers available") }}

	a := newTestAPI(t, healthy)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/health/live", "", "").Code)

	rec := a.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	a = newTestAPI(t, healthy, broken)
	rec = a.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, "ok", resp.Components["redis"])
	assert.Contains(t, resp.Components["nats"], "no servers available")
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
