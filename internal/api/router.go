/**
 * @description
 * This file sets up the HTTP router for the dunning-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * necessary middleware: Clerk JWT auth on operator surfaces and an internal API
 * key on the server-to-server processing trigger.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the operator dashboard.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DunningRoutes creates and returns a new router for the dunning service.
func DunningRoutes(h *DunningHandlers, jwksURL, internalKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Server-to-server trigger, guarded by the shared internal key. The
	// platform scheduler and back-office jobs call this.
	r.Route("/internal/dunning", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/process", h.ProcessDunningHandler)
	})

	// Operator endpoints require a Clerk-issued JWT.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))

		r.Get("/dunning/status", h.GetDunningStatusHandler)
		r.Get("/dunning/analytics", h.GetDunningAnalyticsHandler)
		r.Get("/dunning/subscriptions/{subscriptionID}/config", h.GetDunningConfigHandler)
		r.Put("/dunning/subscriptions/{subscriptionID}/config", h.UpdateDunningConfigHandler)
	})

	return r
}
