package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.HandleActiveAlerts)
			r.Post("/", h.HandleTrigger)
			r.Get("/history", h.HandleHistory)
			r.Get("/stats", h.HandleStats)
			r.Get("/visual", h.HandleVisualAlerts)
			r.Get("/export", h.HandleExport)
			r.Get("/{id}", h.HandleAlert)
			r.Post("/{id}/resolve", h.HandleResolve)
		})
		r.Get("/settings", h.HandleGetSettings)
		r.Put("/settings", h.HandlePutSettings)
		r.Get("/cameras", h.HandleCameras)
		r.Get("/detection/stats", h.HandleDetectionStats)
	})

	return r
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
