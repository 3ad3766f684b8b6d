package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/catalog"
	"github.com/sevasetu/coupon-service/internal/domain"
	"github.com/sevasetu/coupon-service/internal/store"
	"github.com/sevasetu/coupon-service/pkg/rabbitmq"
)

// fakeRepository is an in-memory Repository used by the service tests. It
// mirrors the store's locking semantics with a single mutex so the concurrency
// tests exercise the same compare-and-swap behavior the SQL implementation has.
type fakeRepository struct {
	store.Repository

	mu         sync.Mutex
	packages   []domain.Package
	partners   map[uuid.UUID]*domain.PartnerProfile
	coupons    map[uuid.UUID]*domain.Coupon
	wallets    map[uuid.UUID]*domain.Wallet
	credited   map[uuid.UUID]uuid.UUID // coupon id -> wallet id
	creditRefs map[string]bool         // wallet id + reference no
	batches    map[uuid.UUID]*domain.SettlementBatch

	creditErr error
	mintErr   error
}

func newFakeRepository(packages ...domain.Package) *fakeRepository {
	return &fakeRepository{
		packages:   packages,
		partners:   make(map[uuid.UUID]*domain.PartnerProfile),
		coupons:    make(map[uuid.UUID]*domain.Coupon),
		wallets:    make(map[uuid.UUID]*domain.Wallet),
		credited:   make(map[uuid.UUID]uuid.UUID),
		creditRefs: make(map[string]bool),
		batches:    make(map[uuid.UUID]*domain.SettlementBatch),
	}
}

func (f *fakeRepository) addPartner(p *domain.PartnerProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partners[p.ID] = p
}

func (f *fakeRepository) addCoupon(c *domain.Coupon) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.coupons[c.ID] = &cp
}

func (f *fakeRepository) getCoupon(id uuid.UUID) domain.Coupon {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.coupons[id]
}

func (f *fakeRepository) ListPackages(ctx context.Context) ([]domain.Package, error) {
	return f.packages, nil
}

func (f *fakeRepository) FindPartnerByID(ctx context.Context, partnerID uuid.UUID) (*domain.PartnerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.partners[partnerID]
	if !ok {
		return nil, store.ErrPartnerNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepository) FindCouponByID(ctx context.Context, couponID uuid.UUID) (*domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[couponID]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepository) FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coupons {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrCouponNotFound
}

func (f *fakeRepository) FindCouponsByPaymentRef(ctx context.Context, ref domain.PaymentRef) ([]domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Coupon
	for _, c := range f.coupons {
		if c.PaymentRef.Gateway == ref.Gateway && c.PaymentRef.TransactionID == ref.TransactionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeRepository) MintCoupons(ctx context.Context, coupons []domain.Coupon, donorCap int) ([]domain.Coupon, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mintErr != nil {
		return nil, false, f.mintErr
	}

	ref := coupons[0].PaymentRef
	var existing []domain.Coupon
	for _, c := range f.coupons {
		if c.PaymentRef.Gateway == ref.Gateway && c.PaymentRef.TransactionID == ref.TransactionID {
			existing = append(existing, *c)
		}
	}
	if len(existing) > 0 {
		if existing[0].DonorID != coupons[0].DonorID {
			return nil, false, store.ErrDuplicatePayment
		}
		return existing, true, nil
	}

	for i := range coupons {
		cp := coupons[i]
		f.coupons[cp.ID] = &cp
	}
	return coupons, false, nil
}

func (f *fakeRepository) AssignCoupon(ctx context.Context, couponID uuid.UUID, b domain.Beneficiary, at time.Time) (*domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[couponID]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	if c.Status != domain.CouponCreated {
		return nil, store.ErrInvalidState
	}
	c.Status = domain.CouponAssigned
	c.Beneficiary = &b
	c.AssignedAt = &at
	cp := *c
	return &cp, nil
}

func (f *fakeRepository) RedeemCouponAtomic(ctx context.Context, couponID uuid.UUID, expectedUsedCount int, partnerID uuid.UUID, at time.Time) (*domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.coupons[couponID]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	switch c.Status {
	case domain.CouponSettled:
		return nil, store.ErrAlreadySettled
	case domain.CouponPendingSettlement:
		return nil, store.ErrAlreadyRedeemed
	case domain.CouponCancelled:
		return nil, store.ErrCouponCancelled
	case domain.CouponExpired:
		return nil, store.ErrCouponExpired
	}
	if c.UsedCount != expectedUsedCount {
		return nil, store.ErrRedeemConflict
	}

	c.UsedCount++
	if c.PartnerID == nil {
		pid := partnerID
		c.PartnerID = &pid
	}
	c.RedeemedAt = &at
	if c.UsedCount >= c.MaxUses {
		c.Status = domain.CouponPendingSettlement
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepository) CancelCoupon(ctx context.Context, couponID uuid.UUID, reason string) (*domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[couponID]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	if c.Status != domain.CouponCreated && c.Status != domain.CouponAssigned {
		return nil, store.ErrInvalidState
	}
	c.Status = domain.CouponCancelled
	c.CancelReason = &reason
	cp := *c
	return &cp, nil
}

func (f *fakeRepository) DeleteCoupon(ctx context.Context, couponID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[couponID]
	if !ok {
		return store.ErrCouponNotFound
	}
	if !c.Status.Deletable() {
		return store.ErrInvalidState
	}
	delete(f.coupons, couponID)
	return nil
}

func (f *fakeRepository) ExpireOverdueCoupons(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired int64
	for _, c := range f.coupons {
		if c.Status.Redeemable() && c.ValidUntil.Before(now) {
			c.Status = domain.CouponExpired
			expired++
		}
	}
	return expired, nil
}

func (f *fakeRepository) ListCouponsNearingExpiry(ctx context.Context, now time.Time, window time.Duration, notNotifiedSince time.Time) ([]domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Coupon
	for _, c := range f.coupons {
		if !c.Status.Redeemable() {
			continue
		}
		if !c.ValidUntil.After(now) || c.ValidUntil.After(now.Add(window)) {
			continue
		}
		if c.LastNotifiedAt != nil && !c.LastNotifiedAt.Before(notNotifiedSince) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeRepository) MarkCouponReminderSent(ctx context.Context, couponID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[couponID]
	if !ok {
		return store.ErrCouponNotFound
	}
	c.LastNotifiedAt = &at
	return nil
}

func (f *fakeRepository) GetOrCreateWallet(ctx context.Context, vendorID uuid.UUID, vendorType domain.VendorType) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.VendorID == vendorID {
			cp := *w
			return &cp, nil
		}
	}
	w := &domain.Wallet{
		ID:         uuid.New(),
		VendorID:   vendorID,
		VendorType: vendorType,
		Status:     domain.WalletActive,
		CreatedAt:  time.Now().UTC(),
	}
	f.wallets[w.ID] = w
	cp := *w
	return &cp, nil
}

func (f *fakeRepository) FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeRepository) CreditWallet(ctx context.Context, walletID uuid.UUID, amount int64, sourceCouponIDs []uuid.UUID, referenceNo string) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return nil, f.creditErr
	}
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	switch w.Status {
	case domain.WalletSuspended:
		return nil, store.ErrWalletSuspended
	case domain.WalletClosed:
		return nil, store.ErrWalletClosed
	}
	refKey := walletID.String() + "/" + referenceNo
	if f.creditRefs[refKey] {
		if len(sourceCouponIDs) > 0 {
			return nil, store.ErrDuplicateCredit
		}
		return nil, store.ErrDuplicateReference
	}
	for _, id := range sourceCouponIDs {
		if _, dup := f.credited[id]; dup {
			return nil, store.ErrDuplicateCredit
		}
	}
	for _, id := range sourceCouponIDs {
		f.credited[id] = walletID
	}
	f.creditRefs[refKey] = true
	w.CurrentBalance += amount
	w.TotalReceived += amount
	cp := *w
	return &cp, nil
}

func (f *fakeRepository) UpdateWalletStatus(ctx context.Context, walletID uuid.UUID, status domain.WalletStatus, reason string) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	if status == domain.WalletClosed && w.CurrentBalance != 0 {
		return nil, store.ErrWalletNotEmpty
	}
	w.Status = status
	if reason != "" {
		w.StatusReason = &reason
	} else {
		w.StatusReason = nil
	}
	cp := *w
	return &cp, nil
}

func (f *fakeRepository) SettleWalletAtomic(ctx context.Context, walletID uuid.UUID, amount int64, approvedBy, referenceNo string, batchID uuid.UUID, at time.Time) (*domain.SettlementBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[walletID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	switch w.Status {
	case domain.WalletSuspended:
		return nil, store.ErrWalletSuspended
	case domain.WalletClosed:
		return nil, store.ErrWalletClosed
	}
	if amount > w.CurrentBalance {
		return nil, store.ErrInsufficientBalance
	}

	// FIFO by redemption time, maximal prefix within the requested amount.
	var pending []*domain.Coupon
	for _, c := range f.coupons {
		if c.Status == domain.CouponPendingSettlement && c.PartnerID != nil && *c.PartnerID == w.VendorID {
			pending = append(pending, c)
		}
	}
	for i := 0; i < len(pending); i++ {
		for j := i + 1; j < len(pending); j++ {
			if pending[j].RedeemedAt.Before(*pending[i].RedeemedAt) {
				pending[i], pending[j] = pending[j], pending[i]
			}
		}
	}

	var covered []uuid.UUID
	var coveredSum int64
	for _, c := range pending {
		value := c.RedeemableValue()
		if coveredSum+value > amount {
			break
		}
		covered = append(covered, c.ID)
		coveredSum += value
	}
	if len(covered) == 0 {
		return nil, store.ErrNothingToSettle
	}

	for _, id := range covered {
		c := f.coupons[id]
		c.Status = domain.CouponSettled
		settledAt := at
		c.SettledAt = &settledAt
		bid := batchID
		c.SettlementBatchID = &bid
	}
	w.CurrentBalance -= coveredSum
	w.TotalSettled += coveredSum

	batch := &domain.SettlementBatch{
		ID:               batchID,
		WalletID:         walletID,
		Amount:           coveredSum,
		ApprovedBy:       approvedBy,
		ReferenceNo:      referenceNo,
		CoveredCouponIDs: covered,
		CreatedAt:        at,
	}
	f.batches[batchID] = batch
	cp := *batch
	return &cp, nil
}

func (f *fakeRepository) FindSettlementBatchByID(ctx context.Context, batchID uuid.UUID) (*domain.SettlementBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

// fakePublisher records published events for assertions.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) eventsFor(routingKey string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.routingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}

var _ rabbitmq.Publisher = (*fakePublisher)(nil)

func catalogForTest(repo *fakeRepository) (*catalog.Catalog, error) {
	return catalog.Load(context.Background(), repo)
}

func newTestService(t *testing.T, repo *fakeRepository, publisher rabbitmq.Publisher) *Service {
	t.Helper()
	cat, err := catalog.Load(context.Background(), repo)
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return NewService(repo, cat, publisher, nil, 0, 0)
}

func testPackages() (food domain.Package, multiUse domain.Package, health domain.Package) {
	food = domain.Package{
		ID:         uuid.New(),
		Name:       "Single Meal",
		Category:   domain.CategoryFood,
		FaceAmount: 5000,
		MaxUses:    1,
		ValidDays:  30,
		Active:     true,
	}
	multiUse = domain.Package{
		ID:         uuid.New(),
		Name:       "Weekly Meal Pack",
		Category:   domain.CategoryFood,
		FaceAmount: 5000,
		MaxUses:    7,
		ValidDays:  45,
		Active:     true,
	}
	health = domain.Package{
		ID:         uuid.New(),
		Name:       "Doctor Consultation",
		Category:   domain.CategoryHealth,
		FaceAmount: 30000,
		MaxUses:    1,
		ValidDays:  90,
		Active:     true,
	}
	return food, multiUse, health
}
