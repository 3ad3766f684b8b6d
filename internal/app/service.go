/**
 * @description
 * This file contains the core business logic for the coupon-service. The `Service`
 * struct orchestrates the coupon lifecycle, coordinating between the database
 * repository, the package catalog, the Redis rate limiter, and the message broker.
 *
 * Key features:
 * - Implements minting from confirmed donor payments, with payment-ref idempotency.
 * - Assign / cancel / delete lifecycle operations with state-machine guards.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/catalog, internal/domain, internal/store: Catalog, domain models, data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/catalog"
	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/internal/store"
	"github.com/sevasetu/coupon-service/pkg/rabbitmq"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrPartnerMismatch = errors.New("partner is not eligible to redeem this coupon")
	ErrNotYetValid     = errors.New("coupon validity window has not started")
	ErrNotCouponOwner  = errors.New("coupon belongs to a different donor")
)

// RateLimitedError signals that a partner exceeded the redemption rate limit.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("redemption rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// RedeemRateLimiter is the distributed throttle applied per partner at the
// redemption endpoint.
type RedeemRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the coupon lifecycle and the
// vendor wallet ledger.
type Service struct {
	repo          store.Repository
	catalog       *catalog.Catalog
	eventProducer rabbitmq.Publisher
	rateLimiter   RedeemRateLimiter

	donorCouponCap       int
	redeemLimitPerMinute int
}

// NewService creates a new coupon service instance.
func NewService(repo store.Repository, cat *catalog.Catalog, producer rabbitmq.Publisher, limiter RedeemRateLimiter, donorCap, redeemLimitPerMinute int) *Service {
	return &Service{
		repo:                 repo,
		catalog:              cat,
		eventProducer:        producer,
		rateLimiter:          limiter,
		donorCouponCap:       donorCap,
		redeemLimitPerMinute: redeemLimitPerMinute,
	}
}

// Mint converts a confirmed donor payment into a batch of coupons. The payment
// reference is the idempotency key: replaying the same capture returns the
// previously minted batch with existing=true instead of minting again.
func (s *Service) Mint(ctx context.Context, req domain.MintRequest) ([]domain.Coupon, bool, error) {
	if req.Quantity < 1 {
		return nil, false, ErrInvalidQuantity
	}
	if req.PaymentRef.Gateway == "" || req.PaymentRef.TransactionID == "" {
		return nil, false, errors.New("payment reference is required")
	}

	pkg, err := s.catalog.ValidateAmount(req.PackageID, req.Quantity, req.Amount)
	if err != nil {
		return nil, false, err
	}

	// A partner bound at mint must exist and be able to serve the category.
	if req.PartnerID != nil {
		partner, err := s.repo.FindPartnerByID(ctx, *req.PartnerID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to find partner: %w", err)
		}
		if !partner.VendorType.EligibleFor(pkg.Category) {
			return nil, false, ErrPartnerMismatch
		}
	}

	now := time.Now().UTC()
	coupons := make([]domain.Coupon, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		code, err := generateCouponCode()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate coupon code: %w", err)
		}
		coupons = append(coupons, domain.Coupon{
			ID:          uuid.New(),
			Code:        code,
			QRPayload:   fmt.Sprintf("sevasetu://coupon/%s", code),
			PackageID:   pkg.ID,
			Category:    pkg.Category,
			FaceAmount:  pkg.FaceAmount,
			DonorID:     req.DonorID,
			PartnerID:   req.PartnerID,
			Beneficiary: req.Beneficiary,
			Status:      domain.CouponCreated,
			MaxUses:     pkg.MaxUses,
			UsedCount:   0,
			ValidFrom:   now,
			ValidUntil:  now.AddDate(0, 0, pkg.ValidDays),
			PaymentRef:  req.PaymentRef,
			CreatedAt:   now,
		})
	}

	minted, existing, err := s.repo.MintCoupons(ctx, coupons, s.donorCouponCap)
	if err != nil {
		return nil, false, err
	}
	if existing {
		log.Printf("level=info component=coupon_service msg=\"payment ref already minted; returning existing batch\" gateway=%s tx_id=%s count=%d",
			req.PaymentRef.Gateway, req.PaymentRef.TransactionID, len(minted))
	}
	return minted, existing, nil
}

// AssignCoupon hands a coupon to a named beneficiary.
func (s *Service) AssignCoupon(ctx context.Context, couponID uuid.UUID, req domain.AssignRequest) (*domain.Coupon, error) {
	if req.Beneficiary.Name == "" {
		return nil, errors.New("beneficiary name is required")
	}
	return s.repo.AssignCoupon(ctx, couponID, req.Beneficiary, time.Now().UTC())
}

// CancelCoupon voids an unredeemed coupon and notifies the refund collaborator.
// Refund execution is out of scope here; the event carries the payment ref.
// A non-nil requestedBy must match the owning donor; uuid.Nil is the operator
// surface and bypasses the ownership check.
func (s *Service) CancelCoupon(ctx context.Context, couponID uuid.UUID, reason string, requestedBy uuid.UUID) (*domain.Coupon, error) {
	if err := s.checkCouponOwner(ctx, couponID, requestedBy); err != nil {
		return nil, err
	}

	coupon, err := s.repo.CancelCoupon(ctx, couponID, reason)
	if err != nil {
		return nil, err
	}

	if s.eventProducer != nil {
		event := domain.CouponCancelledEvent{
			CouponID:   coupon.ID,
			DonorID:    coupon.DonorID,
			Amount:     coupon.RedeemableValue(),
			Reason:     reason,
			PaymentRef: coupon.PaymentRef,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RouteCouponCancelled, event); err != nil {
			log.Printf("level=warn component=coupon_service msg=\"failed to publish cancellation event\" coupon_id=%s err=%v", coupon.ID, err)
		}
	}
	return coupon, nil
}

// DeleteCoupon hard-deletes a coupon that carries no financial history. The
// same ownership rule as CancelCoupon applies.
func (s *Service) DeleteCoupon(ctx context.Context, couponID uuid.UUID, requestedBy uuid.UUID) error {
	if err := s.checkCouponOwner(ctx, couponID, requestedBy); err != nil {
		return err
	}
	return s.repo.DeleteCoupon(ctx, couponID)
}

func (s *Service) checkCouponOwner(ctx context.Context, couponID uuid.UUID, requestedBy uuid.UUID) error {
	if requestedBy == uuid.Nil {
		return nil
	}
	coupon, err := s.repo.FindCouponByID(ctx, couponID)
	if err != nil {
		return err
	}
	if coupon.DonorID != requestedBy {
		return ErrNotCouponOwner
	}
	return nil
}

// GetCouponByID retrieves a single coupon.
func (s *Service) GetCouponByID(ctx context.Context, couponID uuid.UUID) (*domain.Coupon, error) {
	return s.repo.FindCouponByID(ctx, couponID)
}

// GetCouponByCode retrieves a single coupon by its redemption code.
func (s *Service) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return s.repo.FindCouponByCode(ctx, code)
}

// ListCoupons retrieves coupons matching the filter options.
func (s *Service) ListCoupons(ctx context.Context, opts domain.CouponListOptions) ([]domain.Coupon, error) {
	return s.repo.ListCoupons(ctx, opts)
}

// ListPackages returns the boot-time catalog snapshot.
func (s *Service) ListPackages() []domain.Package {
	return s.catalog.List()
}

// couponCodeAlphabet omits characters that read ambiguously on printed vouchers.
const couponCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateCouponCode() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, len(buf))
	for i, b := range buf {
		code[i] = couponCodeAlphabet[int(b)%len(couponCodeAlphabet)]
	}
	return "SEVA-" + string(code[:5]) + "-" + string(code[5:]), nil
}
