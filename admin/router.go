package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mounts are the non-API handlers served by the same router.
type Mounts struct {
	Agents    http.HandlerFunc // agent WebSocket channel
	Observers http.HandlerFunc // observer WebSocket channel
	Static    http.Handler     // admin panel assets, optional
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger *slog.Logger, h *Handler, mounts Mounts) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger.With("component", "http")))
	r.Use(chimw.Recoverer)

	// CORS - the admin panel may be served from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	if mounts.Agents != nil {
		r.Get("/ws/ext", mounts.Agents)
	}
	if mounts.Observers != nil {
		r.Get("/ws/admin", mounts.Observers)
	}

	r.Post("/api/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		r.Get("/api/rooms", h.ListRooms)
		r.Post("/api/rooms", h.CreateRoom)
		r.Put("/api/rooms/{id}", h.UpdateRoom)
		r.Delete("/api/rooms/{id}", h.DeleteRoom)

		r.Get("/api/messages", h.ListMessages)
		r.Post("/api/messages", h.CreateMessage)
		r.Put("/api/messages/{id}", h.UpdateMessage)
		r.Delete("/api/messages/{id}", h.DeleteMessage)

		r.Get("/api/activity", h.Activity)
		r.Get("/api/status", h.Status)
	})

	if mounts.Static != nil {
		r.Handle("/*", mounts.Static)
	}

	return r
}
