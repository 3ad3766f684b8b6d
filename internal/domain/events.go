package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentCapturedEvent is the inbound broker payload published by the payment
// edge once a gateway confirms a donor payment. It carries everything needed
// to mint the funded coupon batch.
type PaymentCapturedEvent struct {
	Gateway        string       `json:"gateway"`
	TransactionID  string       `json:"transaction_id"`
	GatewayOrderID string       `json:"gateway_order_id"`
	Amount         int64        `json:"amount"` // paise
	PackageID      uuid.UUID    `json:"package_id"`
	DonorID        uuid.UUID    `json:"donor_id"`
	PartnerID      *uuid.UUID   `json:"partner_id,omitempty"`
	Beneficiary    *Beneficiary `json:"beneficiary,omitempty"`
	Quantity       int          `json:"quantity"`
	Timestamp      time.Time    `json:"timestamp"`
}

// CouponRedeemedEvent is published after a redemption commits.
type CouponRedeemedEvent struct {
	CouponID  uuid.UUID `json:"coupon_id"`
	Code      string    `json:"code"`
	PartnerID uuid.UUID `json:"partner_id"`
	UsedCount int       `json:"used_count"`
	MaxUses   int       `json:"max_uses"`
	Timestamp time.Time `json:"timestamp"`
}

// CouponCancelledEvent notifies the refund collaborator that a coupon was
// voided before redemption. Refund execution happens outside this service.
type CouponCancelledEvent struct {
	CouponID   uuid.UUID  `json:"coupon_id"`
	DonorID    uuid.UUID  `json:"donor_id"`
	Amount     int64      `json:"amount"` // paise
	Reason     string     `json:"reason"`
	PaymentRef PaymentRef `json:"payment_ref"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CouponExpiringEvent is the reminder emitted for coupons nearing the end of
// their validity window.
type CouponExpiringEvent struct {
	CouponID   uuid.UUID `json:"coupon_id"`
	Code       string    `json:"code"`
	DonorID    uuid.UUID `json:"donor_id"`
	ValidUntil time.Time `json:"valid_until"`
	Timestamp  time.Time `json:"timestamp"`
}

// SettlementCompletedEvent is published after a settlement batch commits.
type SettlementCompletedEvent struct {
	BatchID     uuid.UUID `json:"batch_id"`
	WalletID    uuid.UUID `json:"wallet_id"`
	Amount      int64     `json:"amount"` // paise
	CouponCount int       `json:"coupon_count"`
	ApprovedBy  string    `json:"approved_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// WalletCreditFailedEvent is the operator alert raised when a committed
// redemption could not be credited to the vendor wallet (e.g. the wallet is
// suspended). The money owed is never dropped; this flags it for manual or
// reconciliation-job follow-up.
type WalletCreditFailedEvent struct {
	VendorID  uuid.UUID   `json:"vendor_id"`
	CouponIDs []uuid.UUID `json:"coupon_ids"`
	Amount    int64       `json:"amount"` // paise
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}
