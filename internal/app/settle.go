/**
 * @description
 * This file implements the settlement coordinator and the wallet admin
 * operations. Settlement is the payout step: an admin-approved amount is
 * debited from a vendor wallet and the oldest pending coupons it covers move
 * to settled, all inside one store transaction.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: Event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/pkg/rabbitmq"
)

// Settle executes an admin-approved payout against a vendor wallet. The
// requested amount is an upper bound: the actual debit equals the summed value
// of the pending coupons the payout covers, FIFO by redemption time.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (*domain.SettlementBatch, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.ApprovedBy == "" {
		return nil, errors.New("approved_by is required")
	}

	batchID := uuid.New()
	referenceNo := fmt.Sprintf("SETTLE-%s", batchID.String()[:8])
	now := time.Now().UTC()

	batch, err := s.repo.SettleWalletAtomic(ctx, req.WalletID, req.Amount, req.ApprovedBy, referenceNo, batchID, now)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=coupon_service msg=\"settlement completed\" batch_id=%s wallet_id=%s amount=%d coupons=%d",
		batch.ID, batch.WalletID, batch.Amount, len(batch.CoveredCouponIDs))

	if s.eventProducer != nil {
		event := domain.SettlementCompletedEvent{
			BatchID:     batch.ID,
			WalletID:    batch.WalletID,
			Amount:      batch.Amount,
			CouponCount: len(batch.CoveredCouponIDs),
			ApprovedBy:  batch.ApprovedBy,
			Timestamp:   now,
		}
		if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RouteSettlementCompleted, event); err != nil {
			log.Printf("level=warn component=coupon_service msg=\"failed to publish settlement event\" batch_id=%s err=%v", batch.ID, err)
		}
	}

	return batch, nil
}

// GetSettlementBatch retrieves one settlement batch with its covered coupons.
func (s *Service) GetSettlementBatch(ctx context.Context, batchID uuid.UUID) (*domain.SettlementBatch, error) {
	return s.repo.FindSettlementBatchByID(ctx, batchID)
}

// ListSettlementBatches retrieves a wallet's payout history, newest first.
func (s *Service) ListSettlementBatches(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.SettlementBatch, error) {
	return s.repo.ListSettlementBatchesByWallet(ctx, walletID, limit, offset)
}

// CreateWallet provisions a wallet ahead of a vendor's first redemption.
func (s *Service) CreateWallet(ctx context.Context, req domain.CreateWalletRequest) (*domain.Wallet, error) {
	if req.VendorID == uuid.Nil {
		return nil, errors.New("vendor id is required")
	}
	return s.repo.GetOrCreateWallet(ctx, req.VendorID, req.VendorType)
}

// GetWallet retrieves a wallet by its ID.
func (s *Service) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.FindWalletByID(ctx, walletID)
}

// GetWalletByVendor retrieves the wallet owned by a vendor.
func (s *Service) GetWalletByVendor(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.FindWalletByVendorID(ctx, vendorID)
}

// TopUpWallet applies a manual adjustment credit not tied to any coupon. The
// reference number keys the adjustment in the ledger.
func (s *Service) TopUpWallet(ctx context.Context, walletID uuid.UUID, req domain.TopUpRequest) (*domain.Wallet, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.ReferenceNo == "" {
		return nil, errors.New("reference_no is required")
	}
	return s.repo.CreditWallet(ctx, walletID, req.Amount, nil, req.ReferenceNo)
}

// SuspendWallet blocks credits and settlements on a wallet.
func (s *Service) SuspendWallet(ctx context.Context, walletID uuid.UUID, reason string) (*domain.Wallet, error) {
	return s.repo.UpdateWalletStatus(ctx, walletID, domain.WalletSuspended, reason)
}

// ReactivateWallet lifts a suspension.
func (s *Service) ReactivateWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.UpdateWalletStatus(ctx, walletID, domain.WalletActive, "")
}

// CloseWallet permanently closes a wallet. The store rejects closing a wallet
// that still holds a balance.
func (s *Service) CloseWallet(ctx context.Context, walletID uuid.UUID, reason string) (*domain.Wallet, error) {
	return s.repo.UpdateWalletStatus(ctx, walletID, domain.WalletClosed, reason)
}
