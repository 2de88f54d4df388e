/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. CORS:         Cross-origin requests for the frontend
  2. RequestLogger: httplog, ECS schema, JSON to the given logger
  3. AllowContentType: JSON bodies only
  4. CleanPath, Recoverer, Heartbeat("/")
  5. RequireActor: every /api route except the compute endpoint

ROUTE GROUPS:
  /api/intervals/*   Clock-in/out, edits, approvals, recalculation, audit
  /api/teams/*       Team batch operations
  /api/employees/*   Hours, payroll view, overrides
  /api/admin/*       Bulk reprocessing
  /api/segments/*    Calculator preview
  /api/holidays/*    Holiday calendar
  /api/compute       Segment computation for peer services

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// NewLogger returns a JSON logger whose attributes follow the ECS schema
// used by the request logger. A nil writer means stdout.
func NewLogger(w io.Writer, level slog.Level, env string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logFormat := httplog.SchemaECS.Concise(env != "production")
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "worktime-engine"),
		slog.String("env", env),
	)
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		ExposedHeaders:   []string{"Link"},
		MaxAge:           300,
	}))

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	r.Route("/api", func(r chi.Router) {
		// Service-to-service, no actor.
		r.Post("/compute", h.Compute)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)

			r.Route("/intervals", func(r chi.Router) {
				r.Get("/", h.ListIntervals)
				r.Post("/clock-in", h.ClockIn)
				r.Get("/{id}", h.GetInterval)
				r.Put("/{id}", h.EditInterval)
				r.Delete("/{id}", h.DeleteInterval)
				r.Post("/{id}/clock-out", h.ClockOut)
				r.Post("/{id}/approve", h.ApproveInterval)
				r.Post("/{id}/recalculate", h.Recalculate)
				r.Get("/{id}/audit", h.IntervalAudit)
			})

			r.Route("/teams/{teamId}", func(r chi.Router) {
				r.Get("/intervals", h.TeamIntervals)
				r.Post("/approve-all", h.ApproveAll)
				r.Post("/edit-all", h.EditAll)
				r.Post("/members", h.AddTeamMember)
			})

			r.Route("/employees/{id}", func(r chi.Router) {
				r.Get("/hours", h.GetHours)
				r.Get("/payroll", h.GetPayroll)
				r.Get("/days/{date}", h.GetDay)
				r.Get("/overrides", h.ListOverrides)
				r.Put("/overrides/{date}", h.ApplyOverride)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Post("/reprocess", h.Reprocess)
			})

			r.Post("/segments/preview", h.PreviewSegments)

			r.Route("/holidays", func(r chi.Router) {
				r.Get("/", h.ListHolidays)
				r.Post("/", h.CreateHoliday)
				r.Delete("/{id}", h.DeleteHoliday)
			})
		})
	})

	return r
}
