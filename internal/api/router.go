/**
 * @description
 * This file sets up the HTTP router for the disbursement-service: the operator
 * API under /api, the hub callback endpoints at the root, health and metrics.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the operator dashboard.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires every route of the service. metricsHandler may be nil.
func NewRouter(h *Handlers, callbacks *CallbackHandlers, metricsHandler http.Handler, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(660 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	if callbacks != nil {
		callbacks.Mount(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))

		r.Route("/bulk-transfers", func(r chi.Router) {
			r.Post("/", h.CreateBulkHandler)
			r.Get("/", h.ListHistoryHandler)
			r.Get("/{id}", h.GetDetailsHandler)
			r.Get("/{id}/status", h.GetStatusHandler)
			r.Get("/{id}/progress", h.GetProgressHandler)
			r.Get("/{id}/wait", h.WaitHandler)
			r.Post("/{id}/cancel", h.CancelHandler)
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", h.UploadHandler)
			r.Get("/{id}", h.GetUploadHandler)
			r.Post("/{id}/confirm", h.ConfirmUploadHandler)
			r.Delete("/{id}", h.CancelUploadHandler)
		})

		if h.accounts != nil {
			r.Route("/payer-accounts", func(r chi.Router) {
				r.Get("/{id}", h.GetPayerAccountHandler)
				r.Post("/{id}/credit", h.CreditPayerAccountHandler)
			})
		}
	})

	return r
}
