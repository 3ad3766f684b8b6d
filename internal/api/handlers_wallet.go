/**
 * @description
 * HTTP handlers for the vendor wallet ledger and the admin settlement
 * endpoints. Wallet mutation and settlement routes sit behind the internal API
 * key; they are operator surfaces, not partner ones.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/app"
	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/internal/store"
)

// CreateWalletHandler provisions a wallet ahead of a vendor's first redemption.
func (h *CouponHandlers) CreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wallet, err := h.service.CreateWallet(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_wallet outcome=failed vendor_id=%s err=%v", req.VendorID, err)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, wallet)
}

// GetWalletHandler fetches a wallet by its ID.
func (h *CouponHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.parseWalletID(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), walletID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_wallet outcome=failed wallet_id=%s err=%v", walletID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

// GetWalletByVendorHandler fetches the wallet owned by a vendor.
func (h *CouponHandlers) GetWalletByVendorHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, err := uuid.Parse(chi.URLParam(r, "vendorID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid vendor ID format")
		return
	}

	wallet, err := h.service.GetWalletByVendor(r.Context(), vendorID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_wallet_by_vendor outcome=failed vendor_id=%s err=%v", vendorID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

// TopUpWalletHandler applies a manual adjustment credit.
func (h *CouponHandlers) TopUpWalletHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.parseWalletID(w, r)
	if !ok {
		return
	}

	var req domain.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wallet, err := h.service.TopUpWallet(r.Context(), walletID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=topup_wallet outcome=failed wallet_id=%s err=%v", walletID, err)
		switch {
		case errors.Is(err, store.ErrWalletNotFound):
			h.writeError(w, http.StatusNotFound, "Wallet not found")
		case errors.Is(err, store.ErrWalletSuspended), errors.Is(err, store.ErrWalletClosed):
			h.writeError(w, http.StatusLocked, err.Error())
		case errors.Is(err, store.ErrDuplicateReference):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

// SuspendWalletHandler blocks credits and settlements on a wallet.
func (h *CouponHandlers) SuspendWalletHandler(w http.ResponseWriter, r *http.Request) {
	h.updateWalletStatus(w, r, h.service.SuspendWallet)
}

// ReactivateWalletHandler lifts a suspension.
func (h *CouponHandlers) ReactivateWalletHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.parseWalletID(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.ReactivateWallet(r.Context(), walletID)
	if err != nil {
		h.writeWalletStatusError(w, walletID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// CloseWalletHandler permanently closes a fully settled wallet.
func (h *CouponHandlers) CloseWalletHandler(w http.ResponseWriter, r *http.Request) {
	h.updateWalletStatus(w, r, h.service.CloseWallet)
}

func (h *CouponHandlers) updateWalletStatus(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, walletID uuid.UUID, reason string) (*domain.Wallet, error)) {
	walletID, ok := h.parseWalletID(w, r)
	if !ok {
		return
	}

	var req domain.SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wallet, err := apply(r.Context(), walletID, req.Reason)
	if err != nil {
		h.writeWalletStatusError(w, walletID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *CouponHandlers) writeWalletStatusError(w http.ResponseWriter, walletID uuid.UUID, err error) {
	log.Printf("level=warn component=api endpoint=wallet_status outcome=failed wallet_id=%s err=%v", walletID, err)
	switch {
	case errors.Is(err, store.ErrWalletNotFound):
		h.writeError(w, http.StatusNotFound, "Wallet not found")
	case errors.Is(err, store.ErrWalletNotEmpty):
		h.writeError(w, http.StatusUnprocessableEntity, "Wallet still holds a balance; settle it before closing")
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// SettleHandler executes an admin-approved payout against a vendor wallet.
func (h *CouponHandlers) SettleHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	batch, err := h.service.Settle(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=settle outcome=failed wallet_id=%s amount=%d err=%v", req.WalletID, req.Amount, err)
		switch {
		case errors.Is(err, store.ErrWalletNotFound):
			h.writeError(w, http.StatusNotFound, "Wallet not found")
		case errors.Is(err, store.ErrInsufficientBalance):
			h.writeError(w, http.StatusPaymentRequired, err.Error())
		case errors.Is(err, store.ErrWalletSuspended), errors.Is(err, store.ErrWalletClosed):
			h.writeError(w, http.StatusLocked, err.Error())
		case errors.Is(err, store.ErrNothingToSettle):
			h.writeError(w, http.StatusUnprocessableEntity, "No pending coupons coverable by the requested amount")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, batch)
}

// GetSettlementBatchHandler fetches one settlement batch.
func (h *CouponHandlers) GetSettlementBatchHandler(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid batch ID format")
		return
	}

	batch, err := h.service.GetSettlementBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			h.writeError(w, http.StatusNotFound, "Settlement batch not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_settlement outcome=failed batch_id=%s err=%v", batchID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, batch)
}

// ListSettlementBatchesHandler lists a wallet's payout history.
func (h *CouponHandlers) ListSettlementBatchesHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.parseWalletID(w, r)
	if !ok {
		return
	}

	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	batches, err := h.service.ListSettlementBatches(r.Context(), walletID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_settlements outcome=failed wallet_id=%s err=%v", walletID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if batches == nil {
		batches = []domain.SettlementBatch{}
	}

	h.writeJSON(w, http.StatusOK, batches)
}

func (h *CouponHandlers) parseWalletID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	walletID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid wallet ID format")
		return uuid.Nil, false
	}
	return walletID, true
}
