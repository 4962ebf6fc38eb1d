// Package api implements the HTTP REST surface of the control plane: a
// chi router exposing resource type and resource CRUD, admission webhook
// management, manual reconcile triggers, history/outputs reads, and SSE
// event streams, plus a liveness probe.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/gateway"
	"github.com/wilsonge/no8s-operator/internal/registry"
	"github.com/wilsonge/no8s-operator/internal/store"
)

// Server is the HTTP front door of the control plane.
type Server struct {
	router chi.Router
	store  store.Store
	gw     *gateway.Gateway
	bus    *eventbus.Bus
	reg    *registry.Registry
	log    logr.Logger
}

// New builds a Server with every route registered.
func New(s store.Store, gw *gateway.Gateway, bus *eventbus.Bus, reg *registry.Registry, log logr.Logger) *Server {
	srv := &Server{store: s, gw: gw, bus: bus, reg: reg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", srv.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/resource-types", func(r chi.Router) {
			r.Post("/", srv.createResourceType)
			r.Get("/", srv.listResourceTypes)
			r.Get("/{id}", srv.getResourceTypeByID)
			r.Get("/{name}/{version}", srv.getResourceTypeByKey)
		})

		r.Route("/resources", func(r chi.Router) {
			r.Post("/", srv.createResource)
			r.Get("/by-name/{type}/{version}/{name}", srv.getResourceByName)
			r.Get("/{id}", srv.getResource)
			r.Put("/{id}", srv.updateResource)
			r.Delete("/{id}", srv.deleteResource)
			r.Post("/{id}/reconcile", srv.manualTrigger)
			r.Get("/{id}/history", srv.getHistory)
			r.Get("/{id}/outputs", srv.getOutputs)
			r.Put("/{id}/finalizers", srv.patchFinalizers)
			r.Get("/{id}/events", srv.streamResourceEvents)
		})

		r.Route("/admission-webhooks", func(r chi.Router) {
			r.Post("/", srv.createWebhook)
			r.Get("/", srv.listWebhooks)
			r.Get("/{name}", srv.getWebhook)
			r.Delete("/{name}", srv.deleteWebhook)
		})

		r.Get("/events", srv.streamEvents)
	})

	srv.router = r
	return srv
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"reconcilers": s.reg.List(),
		"time":        time.Now().UTC(),
	})
}
