/**
 * @description
 * This file contains the HTTP handlers for the coupon lifecycle endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/catalog, internal/domain, internal/store: Service logic, models, custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/app"
	"github.com/sevasetu/coupon-service/internal/catalog"
	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/internal/store"
)

// CouponHandlers holds the application service that handlers will use.
type CouponHandlers struct {
	service *app.Service
}

// NewCouponHandlers creates a new instance of CouponHandlers.
func NewCouponHandlers(service *app.Service) *CouponHandlers {
	return &CouponHandlers{service: service}
}

type mintResponse struct {
	Existing bool            `json:"existing"`
	Coupons  []domain.Coupon `json:"coupons"`
}

// MintHandler handles the synchronous payment-confirmed callback from the
// payment edge. Replays of an already-consumed payment ref return the original
// batch with 200 instead of 201.
func (h *CouponHandlers) MintHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=mint outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	coupons, existing, err := h.service.Mint(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=mint outcome=failed gateway=%s tx_id=%s err=%v", req.PaymentRef.Gateway, req.PaymentRef.TransactionID, err)
		switch {
		case errors.Is(err, store.ErrDuplicatePayment):
			h.writeError(w, http.StatusConflict, "Payment reference already consumed by a different mint")
		case errors.Is(err, catalog.ErrPackageNotFound):
			h.writeError(w, http.StatusBadRequest, "Unknown or inactive package")
		case errors.Is(err, catalog.ErrAmountMismatch), errors.Is(err, app.ErrInvalidQuantity):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrPartnerNotFound):
			h.writeError(w, http.StatusNotFound, "Partner not found")
		case errors.Is(err, app.ErrPartnerMismatch):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	status := http.StatusCreated
	if existing {
		status = http.StatusOK
	}
	log.Printf("level=info component=api endpoint=mint outcome=success existing=%v count=%d donor_id=%s", existing, len(coupons), req.DonorID)
	h.writeJSON(w, status, mintResponse{Existing: existing, Coupons: coupons})
}

// RedeemHandler handles a partner redeeming a coupon code at the point of
// service.
func (h *CouponHandlers) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=redeem outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	coupon, err := h.service.Redeem(r.Context(), req)
	if err != nil {
		var rateLimited *app.RateLimitedError
		if errors.As(err, &rateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		log.Printf("level=warn component=api endpoint=redeem outcome=failed code=%s partner_id=%s err=%v", req.Code, req.PartnerID, err)
		switch {
		case errors.Is(err, store.ErrCouponNotFound):
			h.writeError(w, http.StatusNotFound, "Coupon not found")
		case errors.Is(err, store.ErrPartnerNotFound):
			h.writeError(w, http.StatusNotFound, "Partner not found")
		case errors.Is(err, store.ErrAlreadyRedeemed), errors.Is(err, store.ErrAlreadySettled), errors.Is(err, store.ErrRedeemConflict):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, store.ErrCouponExpired), errors.Is(err, store.ErrCouponCancelled):
			h.writeError(w, http.StatusGone, err.Error())
		case errors.Is(err, app.ErrPartnerMismatch), errors.Is(err, app.ErrNotYetValid), errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, coupon)
}

// AssignHandler hands a coupon to a named beneficiary.
func (h *CouponHandlers) AssignHandler(w http.ResponseWriter, r *http.Request) {
	couponID, ok := h.parseCouponID(w, r)
	if !ok {
		return
	}

	var req domain.AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	coupon, err := h.service.AssignCoupon(r.Context(), couponID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=assign outcome=failed coupon_id=%s err=%v", couponID, err)
		switch {
		case errors.Is(err, store.ErrCouponNotFound):
			h.writeError(w, http.StatusNotFound, "Coupon not found")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, coupon)
}

// CancelHandler voids a coupon before redemption.
func (h *CouponHandlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	couponID, ok := h.parseCouponID(w, r)
	if !ok {
		return
	}

	var req domain.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	coupon, err := h.service.CancelCoupon(r.Context(), couponID, req.Reason, h.authActorID(r))
	if err != nil {
		log.Printf("level=warn component=api endpoint=cancel outcome=failed coupon_id=%s err=%v", couponID, err)
		switch {
		case errors.Is(err, store.ErrCouponNotFound):
			h.writeError(w, http.StatusNotFound, "Coupon not found")
		case errors.Is(err, app.ErrNotCouponOwner):
			h.writeError(w, http.StatusForbidden, "Coupon belongs to a different donor")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusUnprocessableEntity, "Coupon can no longer be cancelled")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, coupon)
}

// DeleteHandler hard-deletes a coupon without financial history.
func (h *CouponHandlers) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	couponID, ok := h.parseCouponID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCoupon(r.Context(), couponID, h.authActorID(r)); err != nil {
		log.Printf("level=warn component=api endpoint=delete outcome=failed coupon_id=%s err=%v", couponID, err)
		switch {
		case errors.Is(err, store.ErrCouponNotFound):
			h.writeError(w, http.StatusNotFound, "Coupon not found")
		case errors.Is(err, app.ErrNotCouponOwner):
			h.writeError(w, http.StatusForbidden, "Coupon belongs to a different donor")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusUnprocessableEntity, "Coupon carries financial history and cannot be deleted")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCouponHandler fetches a single coupon by UUID.
func (h *CouponHandlers) GetCouponHandler(w http.ResponseWriter, r *http.Request) {
	couponID, ok := h.parseCouponID(w, r)
	if !ok {
		return
	}

	coupon, err := h.service.GetCouponByID(r.Context(), couponID)
	if err != nil {
		if errors.Is(err, store.ErrCouponNotFound) {
			h.writeError(w, http.StatusNotFound, "Coupon not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_coupon outcome=failed coupon_id=%s err=%v", couponID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, coupon)
}

// GetCouponByCodeHandler fetches a single coupon by its redemption code. This
// backs the QR scan preview at the partner's point of service.
func (h *CouponHandlers) GetCouponByCodeHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "Coupon code is required")
		return
	}

	coupon, err := h.service.GetCouponByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrCouponNotFound) {
			h.writeError(w, http.StatusNotFound, "Coupon not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_coupon_by_code outcome=failed code=%s err=%v", code, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, coupon)
}

// ListCouponsHandler queries coupons with optional filters.
func (h *CouponHandlers) ListCouponsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.CouponListOptions{}
	q := r.URL.Query()

	if v := q.Get("donor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid donor_id")
			return
		}
		opts.DonorID = &id
	}
	if v := q.Get("partner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid partner_id")
			return
		}
		opts.PartnerID = &id
	}
	if v := q.Get("status"); v != "" {
		opts.Status = domain.CouponStatus(v)
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid from timestamp")
			return
		}
		opts.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid to timestamp")
			return
		}
		opts.To = &t
	}

	var err error
	opts.Limit, err = parseOptionalInt(q.Get("limit"), 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	opts.Offset, err = parseOptionalInt(q.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	coupons, err := h.service.ListCoupons(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_coupons outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if coupons == nil {
		coupons = []domain.Coupon{}
	}

	h.writeJSON(w, http.StatusOK, coupons)
}

// ListPackagesHandler returns the purchasable package catalog.
func (h *CouponHandlers) ListPackagesHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.ListPackages())
}

// authActorID resolves the authenticated caller to a donor ID for ownership
// checks. Operator service tokens carry non-UUID subjects and resolve to
// uuid.Nil, which the service treats as the admin surface.
func (h *CouponHandlers) authActorID(r *http.Request) uuid.UUID {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		return uuid.Nil
	}
	actorID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil
	}
	return actorID
}

func (h *CouponHandlers) parseCouponID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	couponID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid coupon ID format")
		return uuid.Nil, false
	}
	return couponID, true
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid integer: %q", raw)
	}
	return v, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *CouponHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *CouponHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
