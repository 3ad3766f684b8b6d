/**
 * @description
 * This file defines the core domain models for the coupon-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (paise), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CouponStatus enumerates the lifecycle states of a coupon. Transitions are
// monotonic: a coupon only moves forward along the state graph, never back.
type CouponStatus string

const (
	CouponCreated           CouponStatus = "created"
	CouponAssigned          CouponStatus = "assigned"
	CouponPendingSettlement CouponStatus = "redeemed_pending_settlement"
	CouponSettled           CouponStatus = "settled"
	CouponExpired           CouponStatus = "expired"
	CouponCancelled         CouponStatus = "cancelled"
)

// CouponCategory is the benefit category a coupon belongs to. It decides which
// partner vendor types may redeem an unbound coupon.
type CouponCategory string

const (
	CategoryFood   CouponCategory = "food"
	CategoryHealth CouponCategory = "health"
)

// couponTransitions is the forward edge set of the coupon state graph.
var couponTransitions = map[CouponStatus][]CouponStatus{
	CouponCreated:           {CouponAssigned, CouponPendingSettlement, CouponExpired, CouponCancelled},
	CouponAssigned:          {CouponPendingSettlement, CouponExpired, CouponCancelled},
	CouponPendingSettlement: {CouponSettled},
}

// CanTransition reports whether moving a coupon from `from` to `to` is a legal
// forward edge of the lifecycle state machine.
func CanTransition(from, to CouponStatus) bool {
	for _, next := range couponTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions.
func (s CouponStatus) Terminal() bool {
	return len(couponTransitions[s]) == 0
}

// Redeemable reports whether a coupon in this status may accept a redemption.
func (s CouponStatus) Redeemable() bool {
	return s == CouponCreated || s == CouponAssigned
}

// Deletable reports whether a coupon in this status may be hard-deleted.
// Coupons that carry financial history (pending settlement or settled) are
// permanent records.
func (s CouponStatus) Deletable() bool {
	return s == CouponCreated || s == CouponAssigned || s == CouponExpired || s == CouponCancelled
}

// Beneficiary identifies the person a coupon has been handed to.
type Beneficiary struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// PaymentRef is the mint idempotency key: the gateway-side identity of the
// donor payment that funded a coupon batch.
type PaymentRef struct {
	Gateway        string `json:"gateway"`
	TransactionID  string `json:"transaction_id"`
	GatewayOrderID string `json:"gateway_order_id"`
}

// Coupon is the central entitlement record. It maps directly to the `coupons`
// table in the database.
type Coupon struct {
	ID          uuid.UUID      `json:"id"`
	Code        string         `json:"code"`
	QRPayload   string         `json:"qr_payload"`
	PackageID   uuid.UUID      `json:"package_id"`
	Category    CouponCategory `json:"category"`
	FaceAmount  int64          `json:"face_amount"` // per-use value in paise
	DonorID     uuid.UUID      `json:"donor_id"`
	PartnerID   *uuid.UUID     `json:"partner_id,omitempty"` // nil until bound at mint or first redemption
	Beneficiary *Beneficiary   `json:"beneficiary,omitempty"`
	Status      CouponStatus   `json:"status"`
	MaxUses     int            `json:"max_uses"`
	UsedCount   int            `json:"used_count"`
	ValidFrom   time.Time      `json:"valid_from"`
	ValidUntil  time.Time      `json:"valid_until"`
	PaymentRef  PaymentRef     `json:"payment_ref"`

	SettlementBatchID *uuid.UUID `json:"settlement_batch_id,omitempty"`
	CancelReason      *string    `json:"cancel_reason,omitempty"`
	LastNotifiedAt    *time.Time `json:"last_notified_at,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
}

// RedeemableValue is the wallet credit a fully used coupon is worth: the
// per-use face amount across all permitted uses. Crediting happens lump-sum
// once the final use lands.
func (c *Coupon) RedeemableValue() int64 {
	return c.FaceAmount * int64(c.MaxUses)
}

// MintRequest is the DTO carried by a confirmed donor payment, either from the
// payment-callback endpoint or from a `payment.captured` broker event.
type MintRequest struct {
	PackageID   uuid.UUID    `json:"package_id"`
	DonorID     uuid.UUID    `json:"donor_id"`
	PartnerID   *uuid.UUID   `json:"partner_id,omitempty"`
	Beneficiary *Beneficiary `json:"beneficiary,omitempty"`
	Quantity    int          `json:"quantity"`
	Amount      int64        `json:"amount"` // paid amount in paise, must equal face value x quantity
	PaymentRef  PaymentRef   `json:"payment_ref"`
}

// RedeemRequest is the DTO for a partner redeeming a coupon code at POS.
type RedeemRequest struct {
	Code      string    `json:"code"`
	PartnerID uuid.UUID `json:"partner_id"`
}

// AssignRequest hands a minted coupon to a named beneficiary.
type AssignRequest struct {
	Beneficiary Beneficiary `json:"beneficiary"`
}

// CancelRequest voids a coupon before redemption.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CouponListOptions filters the read-only coupon query surface.
type CouponListOptions struct {
	DonorID   *uuid.UUID
	PartnerID *uuid.UUID
	Status    CouponStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Package is a purchasable coupon template. The catalog is immutable at
// runtime; the core only ever reads it.
type Package struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Category   CouponCategory `json:"category"`
	FaceAmount int64          `json:"face_amount"` // per-use value in paise
	MaxUses    int            `json:"max_uses"`
	ValidDays  int            `json:"valid_days"` // validity window length from mint
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
}
