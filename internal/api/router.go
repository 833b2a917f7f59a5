/**
 * @description
 * This file sets up the HTTP router for the lifecycle-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and authentication, and maps the routes to their
 * corresponding handler functions.
 *
 * Route groups:
 * - Webhooks: provider callbacks, authenticated by signature or terminal
 *   checks inside the handlers rather than by JWT.
 * - Kiosk: catalog browsing, checkout and onboarding endpoints for the
 *   in-store tablet and WhatsApp links. CORS is open here.
 * - Admin: back-office reads, protected by the HS256 JWT middleware.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the lifecycle-service routes.
func NewRouter(h *Handler, adminJWTSecret string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Lifecycle service is healthy"))
	})

	// Provider webhooks
	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/whatsapp", h.handleWhatsAppVerify)
		r.Post("/whatsapp", h.handleWhatsAppWebhook)
		r.Post("/cardcom", h.handleCardcomWebhook)
	})

	// Kiosk and customer-facing endpoints
	r.Get("/packages", h.handleListPackages)
	r.Get("/packages/{packageID}", h.handleGetPackage)
	r.Post("/packages/custom-quote", h.handleCustomQuote)
	r.Post("/checkout", h.handleCreateCheckout)
	r.Route("/onboarding", func(r chi.Router) {
		r.Post("/health-form", h.handleHealthFormComplete)
		r.Post("/face", h.handleFaceCapture)
	})

	// Protected back-office routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(adminJWTSecret))

		r.Get("/customers", h.handleListCustomers)
		r.Get("/customers/{customerID}", h.handleGetCustomer)
		r.Get("/customers/{customerID}/memberships", h.handleListCustomerMemberships)
		r.Get("/customers/{customerID}/transactions", h.handleListCustomerTransactions)
	})

	return r
}
