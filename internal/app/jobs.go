/**
 * @description
 * Scheduled job implementations for the expiry sweeper: flipping overdue
 * coupons to expired and sending validity reminders for coupons nearing the
 * end of their window.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/pkg/rabbitmq"
)

// reminderResendInterval is the minimum gap between two reminders for the same
// coupon. One reminder per sweep day, not one per sweep run.
const reminderResendInterval = 24 * time.Hour

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service      *Service
	logger       *slog.Logger
	reminderDays int
}

// NewJobs creates a new Jobs runner. reminderDays is how far ahead of
// valid_until the reminder pass looks.
func NewJobs(service *Service, logger *slog.Logger, reminderDays int) *Jobs {
	return &Jobs{
		service:      service,
		logger:       logger,
		reminderDays: reminderDays,
	}
}

// RunExpirySweep is the scheduled entry point: reminders first, then the
// expiry flip. Reminders go first so a coupon expiring between the two passes
// is expired, not nagged about.
func (j *Jobs) RunExpirySweep() {
	ctx := context.Background()
	j.SendExpiryReminders(ctx)
	j.ExpireOverdueCoupons(ctx)
}

// ExpireOverdueCoupons flips every redeemable coupon past its valid_until to
// expired in one statement. Coupons pending settlement are money owed and are
// never expired.
func (j *Jobs) ExpireOverdueCoupons(ctx context.Context) {
	j.logger.Info("starting coupon expiry job")

	expired, err := j.service.repo.ExpireOverdueCoupons(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("failed to expire overdue coupons", "error", err)
		return
	}

	if expired == 0 {
		j.logger.Info("no overdue coupons to expire")
		return
	}
	j.logger.Info("coupon expiry job finished", "expired", expired)
}

// SendExpiryReminders publishes a reminder event for each live coupon inside
// the reminder window, at most once per resend interval. A failure on one
// coupon never blocks the rest of the batch.
func (j *Jobs) SendExpiryReminders(ctx context.Context) {
	if j.reminderDays <= 0 {
		return
	}
	j.logger.Info("starting expiry reminder job", "window_days", j.reminderDays)

	now := time.Now().UTC()
	window := time.Duration(j.reminderDays) * 24 * time.Hour
	coupons, err := j.service.repo.ListCouponsNearingExpiry(ctx, now, window, now.Add(-reminderResendInterval))
	if err != nil {
		j.logger.Error("failed to list coupons nearing expiry", "error", err)
		return
	}

	if len(coupons) == 0 {
		j.logger.Info("no coupons nearing expiry")
		return
	}
	j.logger.Info("found coupons nearing expiry", "count", len(coupons))

	sent := 0
	for _, coupon := range coupons {
		event := domain.CouponExpiringEvent{
			CouponID:   coupon.ID,
			Code:       coupon.Code,
			DonorID:    coupon.DonorID,
			ValidUntil: coupon.ValidUntil,
			Timestamp:  now,
		}
		if j.service.eventProducer != nil {
			if err := j.service.eventProducer.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RouteCouponExpiring, event); err != nil {
				j.logger.Error("failed to publish expiry reminder", "coupon_id", coupon.ID, "error", err)
				continue
			}
		}
		if err := j.service.repo.MarkCouponReminderSent(ctx, coupon.ID, now); err != nil {
			j.logger.Error("failed to mark reminder sent", "coupon_id", coupon.ID, "error", err)
			continue
		}
		sent++
	}

	j.logger.Info("expiry reminder job finished", "sent", sent)
}
