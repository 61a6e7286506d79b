package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/tenant-jobs/internal/auth"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/websocket"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Manager     *jobs.Manager
	Reader      *jobs.Reader
	Verifier    *auth.Verifier
	Hub         *websocket.Hub
	Checkers    []Checker
	CORSOrigins []string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", correlationHeader},
		ExposedHeaders: []string{correlationHeader, "Location"},
		MaxAge:         300,
	}))

	r.Get("/health", HandleHealth)
	r.Get("/health/live", HandleLiveness)
	r.Get("/health/ready", HandleReadiness(d.Checkers))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(d.Verifier.Middleware)
		if d.Hub != nil {
			r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
				websocket.HandleWebSocket(d.Hub, w, r)
			})
		}
		r.Route("/v1/jobs/{kind}", func(r chi.Router) {
			r.Post("/", handleCreateJob(d.Manager))
			r.Get("/{jobId}", handleGetJob(d.Reader))
		})
	})
	return r
}

const correlationHeader = "X-Correlation-ID"

type correlationKey struct{}

func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set(correlationHeader, correlationID)
		ctx := context.WithValue(r.Context(), correlationKey{}, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
