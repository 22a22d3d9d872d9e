/**
 * @description
 * This file sets up the HTTP router for the portal-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies the standard middleware stack plus JWT authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PortalRoutes creates and returns a new router for the portal service.
func PortalRoutes(h *PortalHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Account read views and on-demand reconciliation
		r.Get("/accounts", h.ListAccountsHandler)
		r.Get("/accounts/{accountID}/entries", h.ListEntriesHandler)
		r.Post("/accounts/{accountID}/reconcile", h.ReconcileHandler)
		r.Put("/accounts/{accountID}/verification", h.SetAccountVerificationHandler)
		r.Delete("/accounts/{accountID}", h.DeactivateAccountHandler)

		// Money movement channels
		r.Post("/transactions/direct", h.DirectSubmitHandler)
		r.Post("/transactions/mobile-money", h.MomoSubmitHandler)
		r.Post("/transactions/mobile-money/{token}/confirm", h.MomoConfirmHandler)
		r.Post("/transactions/qr/scan", h.QRScanHandler)
		r.Post("/transactions/qr", h.QRSubmitHandler)

		// Adhesion lifecycle
		r.Post("/adhesions", h.CreateAdhesionHandler)
		r.Get("/adhesions", h.ListAdhesionsHandler)
		r.Post("/adhesions/{requestID}/approve", h.ApproveAdhesionHandler)
		r.Post("/adhesions/{requestID}/reject", h.RejectAdhesionHandler)

		// Active institution switching
		r.Get("/switch", h.SwitchStateHandler)
		r.Post("/switch", h.InitiateSwitchHandler)
		r.Post("/switch/complete", h.CompleteSwitchHandler)
		r.Delete("/switch", h.CancelSwitchHandler)
		r.Get("/active-institution", h.ActiveInstitutionHandler)

		// Manual synchronization trigger
		r.Post("/sync", h.TriggerSyncHandler)
	})

	return r
}
