/*
server.go wires chi's router: middleware stack, route table, and the
/metrics scrape endpoint. Route shapes follow spec.md §6 exactly; nothing
here is a demo surface.
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full HTTP surface spec.md §6 describes, rooted at
// a tenant-scoped prefix an external collaborator is responsible for
// mounting (e.g. a reverse proxy that strips /t/{tenant}).
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderBusinessName, HeaderUserID, HeaderRole},
		AllowCredentials: false,
	}))
	r.Use(WithPrincipal)

	r.Route("/enrollments", func(r chi.Router) {
		r.Get("/", h.ListEnrollments)
		r.Post("/", h.CreateEnrollment)
		r.Get("/{uid}", h.GetEnrollment)
		r.Delete("/{uid}", h.DeleteEnrollment)
	})

	r.Route("/usages", func(r chi.Router) {
		r.Get("/", h.ListUsages)
		r.Post("/", h.CreateUsage)
		r.Get("/{uid}", h.GetUsage)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
