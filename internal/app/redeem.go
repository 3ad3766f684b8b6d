/**
 * @description
 * This file implements the redemption flow: the one operation where an
 * entitlement turns into money owed. The order is strict: rate limit, load,
 * validate, compare-and-swap the use counter, then credit the vendor wallet on
 * the final use. The wallet credit happens after the redemption committed; a
 * credit failure never rolls the redemption back, it raises an operator alert.
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
	"github.com/sevasetu/coupon-service/internal/store"
	"github.com/sevasetu/coupon-service/pkg/rabbitmq"
)

// Redeem records one use of a coupon by a partner. On the final use the coupon
// moves to pending settlement and the partner's wallet is credited with the
// coupon's full redeemable value.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (*domain.Coupon, error) {
	if req.Code == "" {
		return nil, errors.New("coupon code is required")
	}
	if req.PartnerID == uuid.Nil {
		return nil, errors.New("partner id is required")
	}

	if err := s.checkRedeemRateLimit(ctx, req.PartnerID); err != nil {
		return nil, err
	}

	coupon, err := s.repo.FindCouponByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	partner, err := s.repo.FindPartnerByID(ctx, req.PartnerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := validateRedemption(coupon, partner, now); err != nil {
		return nil, err
	}

	// Compare-and-swap on the observed use count. A concurrent redeem of the
	// same use loses inside the store and surfaces a conflict error.
	updated, err := s.repo.RedeemCouponAtomic(ctx, coupon.ID, coupon.UsedCount, partner.ID, now)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=coupon_service msg=\"coupon redeemed\" coupon_id=%s code=%s partner_id=%s use=%d/%d",
		updated.ID, updated.Code, partner.ID, updated.UsedCount, updated.MaxUses)

	if s.eventProducer != nil {
		event := domain.CouponRedeemedEvent{
			CouponID:  updated.ID,
			Code:      updated.Code,
			PartnerID: partner.ID,
			UsedCount: updated.UsedCount,
			MaxUses:   updated.MaxUses,
			Timestamp: now,
		}
		if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RouteCouponRedeemed, event); err != nil {
			log.Printf("level=warn component=coupon_service msg=\"failed to publish redemption event\" coupon_id=%s err=%v", updated.ID, err)
		}
	}

	// Final use: the coupon is now pending settlement and the vendor is owed
	// its full value.
	if updated.Status == domain.CouponPendingSettlement {
		s.creditRedeemedCoupon(ctx, updated, partner)
	}

	return updated, nil
}

// validateRedemption runs the pre-CAS checks in a fixed order so callers get
// the most specific error first.
func validateRedemption(coupon *domain.Coupon, partner *domain.PartnerProfile, now time.Time) error {
	if !coupon.Status.Redeemable() {
		switch coupon.Status {
		case domain.CouponSettled:
			return store.ErrAlreadySettled
		case domain.CouponPendingSettlement:
			return store.ErrAlreadyRedeemed
		case domain.CouponCancelled:
			return store.ErrCouponCancelled
		case domain.CouponExpired:
			return store.ErrCouponExpired
		}
		return store.ErrInvalidState
	}

	// The window is checked against the clock, not the stored status: a coupon
	// past valid_until is expired even if the sweeper has not flipped it yet.
	if now.Before(coupon.ValidFrom) {
		return ErrNotYetValid
	}
	if now.After(coupon.ValidUntil) {
		return store.ErrCouponExpired
	}

	if coupon.PartnerID != nil {
		if *coupon.PartnerID != partner.ID {
			return ErrPartnerMismatch
		}
		return nil
	}
	if !partner.VendorType.EligibleFor(coupon.Category) {
		return ErrPartnerMismatch
	}
	return nil
}

// creditRedeemedCoupon moves the coupon's redeemable value onto the vendor's
// wallet. The redemption has already committed; failures here are alerted and
// left for reconciliation, never propagated to the redeeming partner.
func (s *Service) creditRedeemedCoupon(ctx context.Context, coupon *domain.Coupon, partner *domain.PartnerProfile) {
	amount := coupon.RedeemableValue()

	wallet, err := s.repo.GetOrCreateWallet(ctx, partner.ID, partner.VendorType)
	if err != nil {
		s.alertCreditFailure(ctx, coupon, partner.ID, amount, fmt.Sprintf("wallet lookup failed: %v", err))
		return
	}

	_, err = s.repo.CreditWallet(ctx, wallet.ID, amount, []uuid.UUID{coupon.ID}, "coupon:"+coupon.Code)
	switch {
	case err == nil:
		log.Printf("level=info component=coupon_service msg=\"wallet credited\" wallet_id=%s coupon_id=%s amount=%d", wallet.ID, coupon.ID, amount)
	case errors.Is(err, store.ErrDuplicateCredit):
		// Replay of an already-credited coupon; the ledger already holds the money.
		log.Printf("level=warn component=coupon_service msg=\"duplicate wallet credit skipped\" wallet_id=%s coupon_id=%s", wallet.ID, coupon.ID)
	default:
		s.alertCreditFailure(ctx, coupon, partner.ID, amount, err.Error())
	}
}

func (s *Service) alertCreditFailure(ctx context.Context, coupon *domain.Coupon, vendorID uuid.UUID, amount int64, reason string) {
	log.Printf("CRITICAL: wallet credit failed for coupon %s (vendor %s, amount %d): %s", coupon.ID, vendorID, amount, reason)
	if s.eventProducer == nil {
		return
	}
	event := domain.WalletCreditFailedEvent{
		VendorID:  vendorID,
		CouponIDs: []uuid.UUID{coupon.ID},
		Amount:    amount,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RouteWalletCreditFailed, event); err != nil {
		log.Printf("CRITICAL: failed to publish wallet credit failure alert for coupon %s: %v", coupon.ID, err)
	}
}

func (s *Service) checkRedeemRateLimit(ctx context.Context, partnerID uuid.UUID) error {
	if s.rateLimiter == nil || s.redeemLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "redeem", partnerID.String(), s.redeemLimitPerMinute, time.Minute)
	if err != nil {
		// The throttle is protective, not load-bearing; a Redis outage must not
		// stop redemptions.
		log.Printf("level=warn component=coupon_service msg=\"rate limiter unavailable; allowing request\" partner_id=%s err=%v", partnerID, err)
		return nil
	}
	if count > s.redeemLimitPerMinute {
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	return nil
}
