package api

import (
	"context"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type ReadinessResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
}

// Checker probes one dependency for readiness.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

const serviceName = "api-service"

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}

func HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}

// HandleReadiness reports ready only when every checker passes.
func HandleReadiness(checkers []Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := ReadinessResponse{
			Status:     "ready",
			Timestamp:  time.Now(),
			Service:    serviceName,
			Components: make(map[string]string, len(checkers)),
		}
		code := http.StatusOK
		for _, c := range checkers {
			if err := c.Check(ctx); err != nil {
				resp.Components[c.Name] = "unavailable: " + err.Error()
				resp.Status = "not ready"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Components[c.Name] = "ok"
		}
		writeJSON(w, code, resp)
	}
}
