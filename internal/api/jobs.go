package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mtr002/tenant-jobs/internal/auth"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

const maxBodyBytes = 1 << 20

func handleCreateJob(manager *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithCorrelationID(getCorrelationID(r.Context()))

		caller, ok := auth.CallerFromContext(r.Context())
		if !ok {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}
		kind, err := jobs.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req jobs.CreateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, fmt.Errorf("%w: malformed body: %v", jobs.ErrValidation, err))
			return
		}

		rec, err := manager.CreateJob(r.Context(), caller, kind, req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		log.Info().Str("job_id", rec.ID).Str("kind", string(kind)).Str("user_id", caller.UserID).Msg("Job accepted")
		w.Header().Set("Location", "/v1/jobs/"+string(kind)+"/"+rec.ID)
		writeJSON(w, http.StatusAccepted, jobs.NewStatus(rec))
	}
}

func handleGetJob(reader *jobs.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFromContext(r.Context())
		if !ok {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}
		kind, err := jobs.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		status, err := reader.GetJob(r.Context(), caller, kind, chi.URLParam(r, "jobId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrUnknownKind), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	log := logger.WithCorrelationID(getCorrelationID(r.Context()))
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal error"
	} else {
		log.Warn().Err(err).Int("status", code).Str("path", r.URL.Path).Msg("Request rejected")
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}
