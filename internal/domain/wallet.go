/**
 * @description
 * This file defines the vendor wallet ledger models: the per-vendor Wallet,
 * the partner profile that decides redemption eligibility, and the settlement
 * batch written when a wallet's pending balance is paid out.
 *
 * @notes
 * - The wallet invariant `current_balance == total_received - total_settled`
 *   is enforced by the store inside row-locked transactions; these structs
 *   carry the observed values.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletStatus enumerates the administrative states of a vendor wallet.
type WalletStatus string

const (
	WalletActive    WalletStatus = "active"
	WalletSuspended WalletStatus = "suspended"
	WalletClosed    WalletStatus = "closed"
)

// VendorType is the explicit partner classification set at onboarding. It is
// never inferred from free-text fields.
type VendorType string

const (
	VendorDoctor     VendorType = "doctor"
	VendorLab        VendorType = "lab"
	VendorFoodVendor VendorType = "food_vendor"
	VendorGeneric    VendorType = "generic_vendor"
)

// EligibleFor reports whether a vendor of this type may redeem coupons of the
// given category when the coupon is not bound to a specific partner.
func (v VendorType) EligibleFor(category CouponCategory) bool {
	switch category {
	case CategoryFood:
		return v == VendorFoodVendor || v == VendorGeneric
	case CategoryHealth:
		return v == VendorDoctor || v == VendorLab
	}
	return false
}

// PartnerProfile is a simplified view of a partner/vendor, containing only the
// data the coupon core needs to validate redemption.
type PartnerProfile struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	VendorType VendorType `json:"vendor_type"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Wallet is the per-vendor running balance of money the platform owes. It is
// credited on coupon redemption and debited on settlement; it is never
// deleted, only suspended or closed.
type Wallet struct {
	ID             uuid.UUID    `json:"id"`
	VendorID       uuid.UUID    `json:"vendor_id"`
	VendorType     VendorType   `json:"vendor_type"`
	CurrentBalance int64        `json:"current_balance"` // paise
	TotalReceived  int64        `json:"total_received"`  // paise, monotonically non-decreasing
	TotalSettled   int64        `json:"total_settled"`   // paise, monotonically non-decreasing
	Status         WalletStatus `json:"status"`
	StatusReason   *string      `json:"status_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// SettlementBatch records one admin-approved payout: the wallet debit and the
// set of coupons it financially closes.
type SettlementBatch struct {
	ID               uuid.UUID   `json:"id"`
	WalletID         uuid.UUID   `json:"wallet_id"`
	Amount           int64       `json:"amount"` // paise, equals the summed value of covered coupons
	ApprovedBy       string      `json:"approved_by"`
	ReferenceNo      string      `json:"reference_no"`
	CoveredCouponIDs []uuid.UUID `json:"covered_coupon_ids"`
	CreatedAt        time.Time   `json:"created_at"`
}

// SettleRequest is the DTO for the admin settlement endpoint.
type SettleRequest struct {
	WalletID   uuid.UUID `json:"wallet_id"`
	Amount     int64     `json:"amount"` // paise, upper bound on the payout
	ApprovedBy string    `json:"approved_by"`
}

// CreateWalletRequest explicitly provisions a wallet ahead of first redemption.
type CreateWalletRequest struct {
	VendorID   uuid.UUID  `json:"vendor_id"`
	VendorType VendorType `json:"vendor_type"`
}

// TopUpRequest is an out-of-band manual adjustment credit not tied to coupons.
type TopUpRequest struct {
	Amount      int64  `json:"amount"` // paise
	ReferenceNo string `json:"reference_no"`
}

// SuspendRequest carries the operator's reason for a wallet status change.
type SuspendRequest struct {
	Reason string `json:"reason"`
}
