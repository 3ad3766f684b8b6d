package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/catalog"
	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/internal/store"
)

// PaymentEventConsumer processes `payment.captured` events from the payment
// edge and mints the funded coupon batch.
type PaymentEventConsumer struct {
	service *Service
}

func NewPaymentEventConsumer(service *Service) *PaymentEventConsumer {
	return &PaymentEventConsumer{service: service}
}

// HandlePaymentCaptured is the broker binding. Returning true acknowledges the
// delivery; returning false re-queues it. Broken or permanently invalid
// payloads are acknowledged so they cannot poison the queue.
func (c *PaymentEventConsumer) HandlePaymentCaptured(body []byte) bool {
	var event domain.PaymentCapturedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("payment-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.Gateway == "" || event.TransactionID == "" {
		log.Printf("payment-consumer: missing payment reference in event %+v", event)
		return true
	}
	if event.PackageID == uuid.Nil || event.DonorID == uuid.Nil {
		log.Printf("payment-consumer: missing package or donor id for tx %s", event.TransactionID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("payment-consumer: processing error for tx %s: %v", event.TransactionID, err)
		return false
	}
	return true
}

func (c *PaymentEventConsumer) processEvent(ctx context.Context, event domain.PaymentCapturedEvent) error {
	quantity := event.Quantity
	if quantity == 0 {
		quantity = 1
	}

	req := domain.MintRequest{
		PackageID:   event.PackageID,
		DonorID:     event.DonorID,
		PartnerID:   event.PartnerID,
		Beneficiary: event.Beneficiary,
		Quantity:    quantity,
		Amount:      event.Amount,
		PaymentRef: domain.PaymentRef{
			Gateway:        event.Gateway,
			TransactionID:  event.TransactionID,
			GatewayOrderID: event.GatewayOrderID,
		},
	}

	minted, existing, err := c.service.Mint(ctx, req)
	if err != nil {
		// A payment ref bound to a different donor or amount will never succeed
		// on redelivery; the same goes for catalog and partner rejections. Ack
		// and alert.
		if errors.Is(err, store.ErrDuplicatePayment) ||
			errors.Is(err, catalog.ErrPackageNotFound) ||
			errors.Is(err, catalog.ErrAmountMismatch) ||
			errors.Is(err, store.ErrPartnerNotFound) ||
			errors.Is(err, ErrPartnerMismatch) ||
			errors.Is(err, ErrInvalidQuantity) {
			log.Printf("payment-consumer: permanently rejecting tx %s: %v", event.TransactionID, err)
			return nil
		}
		return err
	}

	if existing {
		log.Printf("payment-consumer: tx %s already minted; redelivery acknowledged", event.TransactionID)
		return nil
	}
	log.Printf("payment-consumer: minted %d coupon(s) for tx %s (donor %s)", len(minted), event.TransactionID, event.DonorID)
	return nil
}
