/**
 * @description
 * This file sets up the HTTP router for the wallet service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
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

	"github.com/qraft-Inc/coffeetrace-sub001/internal/app"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/config"
)

// WalletRoutes creates and returns a new router for the wallet service.
func WalletRoutes(h *WalletHandlers, cfg config.Config, limiter *app.WebhookRateLimiter) http.Handler {
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

	// PSP status callbacks, authenticated by shared secret and throttled
	// per source IP.
	r.Group(func(r chi.Router) {
		r.Use(WebhookSecretMiddleware(cfg.PSPWebhookSecret))
		r.Use(WebhookRateLimitMiddleware(limiter, cfg.WebhookRateLimitPerMinute))
		r.Post("/webhooks/psp", h.PSPWebhookHandler)
	})

	// Service-to-service endpoints behind the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))

		r.Post("/internal/credits", h.CreditHandler)

		r.Get("/farmers/{farmerID}/balance", h.GetBalanceHandler)
		r.Get("/farmers/{farmerID}/transactions", h.ListTransactionsHandler)
		r.Get("/farmers/{farmerID}/payouts", h.ListPayoutsHandler)
		r.Get("/farmers/{farmerID}/destination", h.GetDestinationHandler)
		r.Put("/farmers/{farmerID}/destination", h.SetDestinationHandler)

		r.Get("/payouts/{payoutID}", h.GetPayoutHandler)
		r.Post("/payouts/{payoutID}/cancel", h.CancelPayoutHandler)
	})

	return r
}
