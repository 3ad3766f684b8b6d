/**
 * @description
 * This file sets up the HTTP router for the coupon-service. It defines the API
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
)

// CouponRoutes creates and returns a new router for the coupon service.
func CouponRoutes(h *CouponHandlers, jwksURL, internalKey string) http.Handler {
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

	// Group routes that require end-user authentication (donor and partner apps).
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/packages", h.ListPackagesHandler)

		r.Post("/coupons/redeem", h.RedeemHandler)
		r.Get("/coupons", h.ListCouponsHandler)
		r.Get("/coupons/{id}", h.GetCouponHandler)
		r.Get("/coupons/code/{code}", h.GetCouponByCodeHandler)
		r.Post("/coupons/{id}/assign", h.AssignHandler)
		r.Post("/coupons/{id}/cancel", h.CancelHandler)
		r.Delete("/coupons/{id}", h.DeleteHandler)

		r.Get("/wallets/vendor/{vendorID}", h.GetWalletByVendorHandler)
		r.Get("/wallets/{id}", h.GetWalletHandler)
		r.Get("/wallets/{id}/settlements", h.ListSettlementBatchesHandler)
	})

	// Internal surface: the payment edge's mint callback and the operator
	// console. Guarded by the shared internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalKey))

		r.Post("/internal/coupons/mint", h.MintHandler)
		r.Post("/internal/settlements", h.SettleHandler)
		r.Get("/internal/settlements/{id}", h.GetSettlementBatchHandler)
		r.Post("/internal/wallets", h.CreateWalletHandler)
		r.Post("/internal/wallets/{id}/topup", h.TopUpWalletHandler)
		r.Post("/internal/wallets/{id}/suspend", h.SuspendWalletHandler)
		r.Post("/internal/wallets/{id}/reactivate", h.ReactivateWalletHandler)
		r.Post("/internal/wallets/{id}/close", h.CloseWalletHandler)
	})

	return r
}
