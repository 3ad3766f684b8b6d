package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from CouponStatus
		to   CouponStatus
		want bool
	}{
		{"created to assigned", CouponCreated, CouponAssigned, true},
		{"created to pending settlement", CouponCreated, CouponPendingSettlement, true},
		{"created to expired", CouponCreated, CouponExpired, true},
		{"created to cancelled", CouponCreated, CouponCancelled, true},
		{"assigned to pending settlement", CouponAssigned, CouponPendingSettlement, true},
		{"assigned to expired", CouponAssigned, CouponExpired, true},
		{"assigned to cancelled", CouponAssigned, CouponCancelled, true},
		{"pending settlement to settled", CouponPendingSettlement, CouponSettled, true},

		// No backward edges and no escape from terminal states.
		{"assigned back to created", CouponAssigned, CouponCreated, false},
		{"pending settlement to cancelled", CouponPendingSettlement, CouponCancelled, false},
		{"pending settlement to expired", CouponPendingSettlement, CouponExpired, false},
		{"settled to anything", CouponSettled, CouponCreated, false},
		{"expired to assigned", CouponExpired, CouponAssigned, false},
		{"cancelled to assigned", CouponCancelled, CouponAssigned, false},
		{"settled to settled", CouponSettled, CouponSettled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCouponStatusPredicates(t *testing.T) {
	tests := []struct {
		status     CouponStatus
		terminal   bool
		redeemable bool
		deletable  bool
	}{
		{CouponCreated, false, true, true},
		{CouponAssigned, false, true, true},
		{CouponPendingSettlement, false, false, false},
		{CouponSettled, true, false, false},
		{CouponExpired, true, false, true},
		{CouponCancelled, true, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.Redeemable(); got != tt.redeemable {
				t.Errorf("Redeemable() = %v, want %v", got, tt.redeemable)
			}
			if got := tt.status.Deletable(); got != tt.deletable {
				t.Errorf("Deletable() = %v, want %v", got, tt.deletable)
			}
		})
	}
}

func TestRedeemableValue(t *testing.T) {
	single := Coupon{FaceAmount: 5000, MaxUses: 1}
	if got := single.RedeemableValue(); got != 5000 {
		t.Errorf("single-use RedeemableValue() = %d, want 5000", got)
	}
	weekly := Coupon{FaceAmount: 5000, MaxUses: 7}
	if got := weekly.RedeemableValue(); got != 35000 {
		t.Errorf("multi-use RedeemableValue() = %d, want 35000", got)
	}
}

func TestVendorTypeEligibleFor(t *testing.T) {
	tests := []struct {
		vendor   VendorType
		category CouponCategory
		want     bool
	}{
		{VendorFoodVendor, CategoryFood, true},
		{VendorGeneric, CategoryFood, true},
		{VendorDoctor, CategoryFood, false},
		{VendorLab, CategoryFood, false},
		{VendorDoctor, CategoryHealth, true},
		{VendorLab, CategoryHealth, true},
		{VendorFoodVendor, CategoryHealth, false},
		{VendorGeneric, CategoryHealth, false},
		{VendorGeneric, CouponCategory("transport"), false},
	}

	for _, tt := range tests {
		if got := tt.vendor.EligibleFor(tt.category); got != tt.want {
			t.Errorf("%s.EligibleFor(%s) = %v, want %v", tt.vendor, tt.category, got, tt.want)
		}
	}
}
