/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the coupon-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
// Every method that mutates money or coupon state is atomic: it either commits
// the full effect or none of it.
type Repository interface {
	// Package catalog (read-only to the core)
	ListPackages(ctx context.Context) ([]domain.Package, error)

	// Partner profiles
	FindPartnerByID(ctx context.Context, partnerID uuid.UUID) (*domain.PartnerProfile, error)

	// Coupon lookups and queries
	FindCouponByID(ctx context.Context, couponID uuid.UUID) (*domain.Coupon, error)
	FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	FindCouponsByPaymentRef(ctx context.Context, ref domain.PaymentRef) ([]domain.Coupon, error)
	ListCoupons(ctx context.Context, opts domain.CouponListOptions) ([]domain.Coupon, error)

	// Coupon lifecycle
	// MintCoupons inserts a batch atomically. If the payment ref was already
	// consumed it returns the previously minted set with existing=true; if the
	// ref is attached to a different donor or amount it returns
	// ErrDuplicatePayment. donorCap > 0 archives the donor's oldest terminal
	// coupons above the cap inside the same transaction.
	MintCoupons(ctx context.Context, coupons []domain.Coupon, donorCap int) (minted []domain.Coupon, existing bool, err error)
	AssignCoupon(ctx context.Context, couponID uuid.UUID, b domain.Beneficiary, at time.Time) (*domain.Coupon, error)
	// RedeemCouponAtomic performs the compare-and-swap redemption: it locks the
	// coupon row, verifies used_count still equals expectedUsedCount and the
	// status is still redeemable, then increments the counter, binds the
	// partner if unbound, and flips the status to pending settlement on the
	// final use. A loser of a concurrent race gets an error classifying the
	// post-update state (ErrAlreadyRedeemed, ErrAlreadySettled, ErrRedeemConflict).
	RedeemCouponAtomic(ctx context.Context, couponID uuid.UUID, expectedUsedCount int, partnerID uuid.UUID, at time.Time) (*domain.Coupon, error)
	CancelCoupon(ctx context.Context, couponID uuid.UUID, reason string) (*domain.Coupon, error)
	DeleteCoupon(ctx context.Context, couponID uuid.UUID) error

	// Expiry sweep
	ExpireOverdueCoupons(ctx context.Context, now time.Time) (int64, error)
	ListCouponsNearingExpiry(ctx context.Context, now time.Time, window time.Duration, notNotifiedSince time.Time) ([]domain.Coupon, error)
	MarkCouponReminderSent(ctx context.Context, couponID uuid.UUID, at time.Time) error

	// Wallet ledger
	// GetOrCreateWallet is race-safe: two concurrent first-redemption events
	// for the same new vendor resolve to a single wallet row.
	GetOrCreateWallet(ctx context.Context, vendorID uuid.UUID, vendorType domain.VendorType) (*domain.Wallet, error)
	FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	FindWalletByVendorID(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error)
	// CreditWallet credits the wallet and records one ledger row per source
	// coupon; a replay of an already-credited coupon returns ErrDuplicateCredit
	// and leaves the balance untouched. A nil coupon set is an out-of-band
	// manual adjustment keyed by referenceNo: replaying a reference already
	// credited to the wallet returns ErrDuplicateReference without moving money.
	CreditWallet(ctx context.Context, walletID uuid.UUID, amount int64, sourceCouponIDs []uuid.UUID, referenceNo string) (*domain.Wallet, error)
	// DebitWallet re-reads the balance under a row lock before writing, so a
	// settlement can never overdraw under concurrency.
	DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, referenceNo string) (*domain.Wallet, error)
	UpdateWalletStatus(ctx context.Context, walletID uuid.UUID, status domain.WalletStatus, reason string) (*domain.Wallet, error)

	// Settlement
	// SettleWalletAtomic commits the wallet debit, the coupon settled marks,
	// and the batch record as one transaction. Coverage is FIFO by redeemed_at:
	// the maximal prefix of pending coupons whose summed value fits in amount.
	SettleWalletAtomic(ctx context.Context, walletID uuid.UUID, amount int64, approvedBy, referenceNo string, batchID uuid.UUID, at time.Time) (*domain.SettlementBatch, error)
	FindSettlementBatchByID(ctx context.Context, batchID uuid.UUID) (*domain.SettlementBatch, error)
	ListSettlementBatchesByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.SettlementBatch, error)
}
