// Package api exposes the instance manager over REST and websocket streams.
package api

import (
	"net/http"

	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/orchestrator"
	"ensemble/internal/process"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// OutputSource streams raw process output for a handle.
type OutputSource interface {
	Subscribe(handle process.Handle) (<-chan []byte, func(), error)
}

type Options struct {
	Manager       *orchestrator.Manager
	Output        OutputSource
	Events        *event.Bus[event.InstanceEvent]
	CatalogEvents *event.Bus[event.CatalogEvent]
	Logger        *logging.Logger
	Metrics       *metrics.Registry
	AuthToken     string
	// AllowedOrigins applies to CORS and websocket origin checks. "*" allows any origin.
	AllowedOrigins []string
}

func NewRouter(opts Options) http.Handler {
	rest := &RestHandler{
		Manager: opts.Manager,
		Logger:  opts.Logger,
	}
	token := opts.AuthToken

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(instrumentMiddleware(opts.Metrics, opts.Logger))

	r.Group(func(r chi.Router) {
		r.Use(securityHeadersMiddleware)

		r.Get("/api/status", restHandler(token, rest.handleStatus))
		r.Get("/api/roles", restHandler(token, rest.handleRoles))
		r.Get("/api/teams", restHandler(token, rest.handleTeams))
		r.Post("/api/teams/{id}/instances", restHandler(token, rest.handleCreateTeam))

		r.Get("/api/instances", restHandler(token, rest.handleListInstances))
		r.Post("/api/instances", restHandler(token, rest.handleCreateInstance))
		r.Delete("/api/instances", restHandler(token, rest.handleTerminateAll))
		r.Get("/api/instances/{id}", restHandler(token, rest.handleGetInstance))
		r.Delete("/api/instances/{id}", restHandler(token, rest.handleTerminateInstance))
		r.Put("/api/instances/{id}/height", restHandler(token, rest.handleResize))
		r.Get("/api/instances/{id}/history", restHandler(token, rest.handleHistory))
		r.Post("/api/instances/{id}/history", restHandler(token, rest.handleToggleHistory))
		r.Post("/api/instances/{id}/focus", restHandler(token, rest.handleFocus))
		r.Post("/api/instances/{id}/messages", restHandler(token, rest.handleSendMessage))
		r.Post("/api/instances/{id}/confirm", restHandler(token, rest.handleConfirm))

		r.Get("/api/logs", restHandler(token, rest.handleLogs))
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Get("/ws/instances/events", func(w http.ResponseWriter, req *http.Request) {
		serveWSBusStream(w, req, wsBusStreamConfig[event.InstanceEvent]{
			Logger:            opts.Logger,
			AuthToken:         token,
			AllowedOrigins:    opts.AllowedOrigins,
			Bus:               opts.Events,
			Types:             parseEventTypes(req.URL.Query()),
			UnavailableReason: "instance events unavailable",
		})
	})
	r.Get("/ws/catalog/events", func(w http.ResponseWriter, req *http.Request) {
		serveWSBusStream(w, req, wsBusStreamConfig[event.CatalogEvent]{
			Logger:            opts.Logger,
			AuthToken:         token,
			AllowedOrigins:    opts.AllowedOrigins,
			Bus:               opts.CatalogEvents,
			UnavailableReason: "catalog events unavailable",
		})
	})
	r.Handle("/ws/instances/{id}/output", &OutputHandler{
		Manager:        opts.Manager,
		Output:         opts.Output,
		Logger:         opts.Logger,
		AuthToken:      token,
		AllowedOrigins: opts.AllowedOrigins,
	})
	r.Handle("/ws/logs", &LogsHandler{
		Logger:         opts.Logger,
		AuthToken:      token,
		AllowedOrigins: opts.AllowedOrigins,
	})

	return r
}
