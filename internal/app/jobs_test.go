package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/pkg/rabbitmq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExpireOverdueCoupons(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	svc := newTestService(t, repo, &fakePublisher{})
	jobs := NewJobs(svc, discardLogger(), 3)

	now := time.Now().UTC()
	overdue := seedCoupon(repo, food, "SEVA-SWEEP-11111", withWindow(now.Add(-48*time.Hour), now.Add(-time.Hour)))
	live := seedCoupon(repo, food, "SEVA-ALIVE-11111")
	// Money owed is never expired, even past the window.
	pending := seedCoupon(repo, food, "SEVA-OWEDX-11111",
		withStatus(domain.CouponPendingSettlement), withWindow(now.Add(-48*time.Hour), now.Add(-time.Hour)))

	jobs.ExpireOverdueCoupons(context.Background())

	if got := repo.getCoupon(overdue.ID); got.Status != domain.CouponExpired {
		t.Fatalf("expected overdue coupon expired, got %s", got.Status)
	}
	if got := repo.getCoupon(live.ID); got.Status != domain.CouponCreated {
		t.Fatalf("live coupon must be untouched, got %s", got.Status)
	}
	if got := repo.getCoupon(pending.ID); got.Status != domain.CouponPendingSettlement {
		t.Fatalf("pending-settlement coupon must never expire, got %s", got.Status)
	}
}

func TestSendExpiryReminders(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	publisher := &fakePublisher{}
	svc := newTestService(t, repo, publisher)
	jobs := NewJobs(svc, discardLogger(), 3)

	now := time.Now().UTC()
	expiring := seedCoupon(repo, food, "SEVA-SOONX-11111", withWindow(now.Add(-24*time.Hour), now.Add(48*time.Hour)))
	seedCoupon(repo, food, "SEVA-FARXX-11111", withWindow(now.Add(-24*time.Hour), now.Add(30*24*time.Hour)))

	jobs.SendExpiryReminders(context.Background())

	events := publisher.eventsFor(rabbitmq.RouteCouponExpiring)
	if len(events) != 1 {
		t.Fatalf("expected 1 reminder event, got %d", len(events))
	}
	event, ok := events[0].body.(domain.CouponExpiringEvent)
	if !ok {
		t.Fatalf("unexpected reminder payload type %T", events[0].body)
	}
	if event.CouponID != expiring.ID {
		t.Fatalf("reminder sent for wrong coupon: %s", event.CouponID)
	}
	if got := repo.getCoupon(expiring.ID); got.LastNotifiedAt == nil {
		t.Fatal("reminder must be recorded on the coupon")
	}

	// A second run inside the resend interval sends nothing new.
	jobs.SendExpiryReminders(context.Background())
	if got := len(publisher.eventsFor(rabbitmq.RouteCouponExpiring)); got != 1 {
		t.Fatalf("expected no reminder on re-run, got %d total", got)
	}
}

func TestSendExpiryReminders_DisabledWindow(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	publisher := &fakePublisher{}
	svc := newTestService(t, repo, publisher)
	jobs := NewJobs(svc, discardLogger(), 0)

	now := time.Now().UTC()
	seedCoupon(repo, food, "SEVA-NOREM-11111", withWindow(now.Add(-24*time.Hour), now.Add(24*time.Hour)))

	jobs.SendExpiryReminders(context.Background())
	if got := len(publisher.eventsFor(rabbitmq.RouteCouponExpiring)); got != 0 {
		t.Fatalf("reminders disabled, expected 0 events, got %d", got)
	}
}

func TestRunExpirySweep_RemindersBeforeExpiry(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	publisher := &fakePublisher{}
	svc := newTestService(t, repo, publisher)
	jobs := NewJobs(svc, discardLogger(), 3)

	now := time.Now().UTC()
	overdue := seedCoupon(repo, food, "SEVA-GONEX-11111", withWindow(now.Add(-48*time.Hour), now.Add(-time.Hour)))
	expiring := seedCoupon(repo, food, "SEVA-SOONY-11111", withWindow(now.Add(-24*time.Hour), now.Add(48*time.Hour)))

	jobs.RunExpirySweep()

	if got := repo.getCoupon(overdue.ID); got.Status != domain.CouponExpired {
		t.Fatalf("expected overdue coupon expired, got %s", got.Status)
	}
	// The already-overdue coupon gets expired, not reminded about.
	events := publisher.eventsFor(rabbitmq.RouteCouponExpiring)
	if len(events) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(events))
	}
	if event := events[0].body.(domain.CouponExpiringEvent); event.CouponID != expiring.ID {
		t.Fatalf("reminder sent for wrong coupon: %s", event.CouponID)
	}
}

func TestCancelCoupon_PublishesRefundEvent(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	publisher := &fakePublisher{}
	svc := newTestService(t, repo, publisher)

	coupon := seedCoupon(repo, food, "SEVA-CANCX-11111")

	cancelled, err := svc.CancelCoupon(context.Background(), coupon.ID, "donor requested refund", coupon.DonorID)
	if err != nil {
		t.Fatalf("CancelCoupon returned error: %v", err)
	}
	if cancelled.Status != domain.CouponCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	events := publisher.eventsFor(rabbitmq.RouteCouponCancelled)
	if len(events) != 1 {
		t.Fatalf("expected 1 cancellation event, got %d", len(events))
	}
	event, ok := events[0].body.(domain.CouponCancelledEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].body)
	}
	if event.PaymentRef != coupon.PaymentRef {
		t.Fatalf("cancellation event must carry the payment ref for the refund: %+v", event)
	}
	if event.Amount != coupon.RedeemableValue() {
		t.Fatalf("expected refundable amount %d, got %d", coupon.RedeemableValue(), event.Amount)
	}
}

func TestDeleteCoupon_FinancialHistoryProtected(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	svc := newTestService(t, repo, &fakePublisher{})

	deletable := seedCoupon(repo, food, "SEVA-DELOK-11111", withStatus(domain.CouponExpired))
	protected := seedCoupon(repo, food, "SEVA-DELNO-11111", withStatus(domain.CouponPendingSettlement))

	if err := svc.DeleteCoupon(context.Background(), deletable.ID, deletable.DonorID); err != nil {
		t.Fatalf("deleting an expired coupon failed: %v", err)
	}
	if err := svc.DeleteCoupon(context.Background(), protected.ID, protected.DonorID); err == nil {
		t.Fatal("deleting a pending-settlement coupon must fail")
	}
	if _, err := repo.FindCouponByID(context.Background(), protected.ID); err != nil {
		t.Fatalf("protected coupon must survive: %v", err)
	}
}

func TestCouponOwnership(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	svc := newTestService(t, repo, &fakePublisher{})

	coupon := seedCoupon(repo, food, "SEVA-OWNER-11111")
	stranger := uuid.New()

	if _, err := svc.CancelCoupon(context.Background(), coupon.ID, "not mine", stranger); !errors.Is(err, ErrNotCouponOwner) {
		t.Fatalf("expected ErrNotCouponOwner on cancel, got %v", err)
	}
	if err := svc.DeleteCoupon(context.Background(), coupon.ID, stranger); !errors.Is(err, ErrNotCouponOwner) {
		t.Fatalf("expected ErrNotCouponOwner on delete, got %v", err)
	}
	if got := repo.getCoupon(coupon.ID); got.Status != domain.CouponCreated {
		t.Fatalf("coupon must be untouched by a stranger, got %s", got.Status)
	}

	// The operator surface (no donor identity) may cancel on the donor's behalf.
	if _, err := svc.CancelCoupon(context.Background(), coupon.ID, "support ticket 4411", uuid.Nil); err != nil {
		t.Fatalf("operator cancel failed: %v", err)
	}
}

func TestAssignCoupon(t *testing.T) {
	food, _, _ := testPackages()
	repo := newFakeRepository(food)
	svc := newTestService(t, repo, &fakePublisher{})

	coupon := seedCoupon(repo, food, "SEVA-ASSGN-11111")

	assigned, err := svc.AssignCoupon(context.Background(), coupon.ID, domain.AssignRequest{
		Beneficiary: domain.Beneficiary{Name: "Ravi", Phone: "+919800000000"},
	})
	if err != nil {
		t.Fatalf("AssignCoupon returned error: %v", err)
	}
	if assigned.Status != domain.CouponAssigned {
		t.Fatalf("expected assigned, got %s", assigned.Status)
	}
	if assigned.Beneficiary == nil || assigned.Beneficiary.Name != "Ravi" {
		t.Fatalf("beneficiary not recorded: %+v", assigned.Beneficiary)
	}

	if _, err := svc.AssignCoupon(context.Background(), coupon.ID, domain.AssignRequest{}); err == nil {
		t.Fatal("expected error for missing beneficiary name")
	}

	if _, err := svc.AssignCoupon(context.Background(), uuid.New(), domain.AssignRequest{Beneficiary: domain.Beneficiary{Name: "X"}}); err == nil {
		t.Fatal("expected error for unknown coupon")
	}
}
