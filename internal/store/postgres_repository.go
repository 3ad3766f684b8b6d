/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for the coupon side of the ledger. It contains the SQL for package catalog
 * reads, partner lookups, and every coupon lifecycle mutation. State-changing
 * operations run inside transactions with row locks so concurrent redemption
 * and settlement attempts serialize on the coupon row.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sevasetu/coupon-service/internal/domain"
)

var (
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrPartnerNotFound     = errors.New("partner not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrBatchNotFound       = errors.New("settlement batch not found")
	ErrInvalidState        = errors.New("coupon is not in a valid state for this operation")
	ErrAlreadyRedeemed     = errors.New("coupon has already been redeemed")
	ErrAlreadySettled      = errors.New("coupon has already been settled")
	ErrCouponExpired       = errors.New("coupon has expired")
	ErrCouponCancelled     = errors.New("coupon has been cancelled")
	ErrRedeemConflict      = errors.New("coupon was redeemed concurrently")
	ErrDuplicatePayment    = errors.New("payment reference already consumed by a different mint")
	ErrDuplicateCredit     = errors.New("coupon batch already credited to wallet")
	ErrDuplicateReference  = errors.New("reference number already credited to this wallet")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrWalletSuspended     = errors.New("wallet is suspended")
	ErrWalletClosed        = errors.New("wallet is closed")
	ErrWalletNotEmpty      = errors.New("wallet balance must be zero to close")
	ErrNothingToSettle     = errors.New("no pending coupons coverable by the requested amount")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const couponColumns = `
	id, code, qr_payload, package_id, category, face_amount, donor_id, partner_id,
	beneficiary_name, beneficiary_phone, status, max_uses, used_count,
	valid_from, valid_until, gateway, gateway_transaction_id, gateway_order_id,
	settlement_batch_id, cancel_reason, last_notified_at,
	created_at, assigned_at, redeemed_at, settled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var c domain.Coupon
	var beneficiaryName, beneficiaryPhone *string
	err := row.Scan(
		&c.ID, &c.Code, &c.QRPayload, &c.PackageID, &c.Category, &c.FaceAmount,
		&c.DonorID, &c.PartnerID, &beneficiaryName, &beneficiaryPhone,
		&c.Status, &c.MaxUses, &c.UsedCount, &c.ValidFrom, &c.ValidUntil,
		&c.PaymentRef.Gateway, &c.PaymentRef.TransactionID, &c.PaymentRef.GatewayOrderID,
		&c.SettlementBatchID, &c.CancelReason, &c.LastNotifiedAt,
		&c.CreatedAt, &c.AssignedAt, &c.RedeemedAt, &c.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	if beneficiaryName != nil {
		c.Beneficiary = &domain.Beneficiary{Name: *beneficiaryName}
		if beneficiaryPhone != nil {
			c.Beneficiary.Phone = *beneficiaryPhone
		}
	}
	return &c, nil
}

// ListPackages returns the full package catalog, active and inactive. The
// catalog adapter filters and caches; this query runs once at boot.
func (r *PostgresRepository) ListPackages(ctx context.Context) ([]domain.Package, error) {
	query := `
		SELECT id, name, category, face_amount, max_uses, valid_days, active, created_at
		FROM packages
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []domain.Package
	for rows.Next() {
		var p domain.Package
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.FaceAmount, &p.MaxUses, &p.ValidDays, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// FindPartnerByID retrieves a partner profile by its ID.
func (r *PostgresRepository) FindPartnerByID(ctx context.Context, partnerID uuid.UUID) (*domain.PartnerProfile, error) {
	var p domain.PartnerProfile
	query := `SELECT id, name, vendor_type, created_at FROM partners WHERE id = $1`
	err := r.db.QueryRow(ctx, query, partnerID).Scan(&p.ID, &p.Name, &p.VendorType, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPartnerNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindCouponByID retrieves a coupon by its unique ID.
func (r *PostgresRepository) FindCouponByID(ctx context.Context, couponID uuid.UUID) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1 AND archived_at IS NULL`
	coupon, err := scanCoupon(r.db.QueryRow(ctx, query, couponID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return coupon, nil
}

// FindCouponByCode retrieves a coupon by its human-readable code.
func (r *PostgresRepository) FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 AND archived_at IS NULL`
	coupon, err := scanCoupon(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return coupon, nil
}

// FindCouponsByPaymentRef retrieves all coupons minted for a gateway payment.
func (r *PostgresRepository) FindCouponsByPaymentRef(ctx context.Context, ref domain.PaymentRef) ([]domain.Coupon, error) {
	query := `
		SELECT ` + couponColumns + `
		FROM coupons
		WHERE gateway = $1 AND gateway_transaction_id = $2
		ORDER BY created_at ASC, code ASC
	`
	rows, err := r.db.Query(ctx, query, ref.Gateway, ref.TransactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCoupons(rows)
}

func collectCoupons(rows pgx.Rows) ([]domain.Coupon, error) {
	var coupons []domain.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

// ListCoupons retrieves coupons filtered by donor, partner, status, and date range.
func (r *PostgresRepository) ListCoupons(ctx context.Context, opts domain.CouponListOptions) ([]domain.Coupon, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE archived_at IS NULL`
	args := []interface{}{}
	argPos := 1

	if opts.DonorID != nil {
		query += fmt.Sprintf(" AND donor_id = $%d", argPos)
		args = append(args, *opts.DonorID)
		argPos++
	}
	if opts.PartnerID != nil {
		query += fmt.Sprintf(" AND partner_id = $%d", argPos)
		args = append(args, *opts.PartnerID)
		argPos++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, opts.Status)
		argPos++
	}
	if opts.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *opts.From)
		argPos++
	}
	if opts.To != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argPos)
		args = append(args, *opts.To)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCoupons(rows)
}

// MintCoupons inserts a coupon batch for one confirmed payment. An advisory
// lock on the payment reference serializes concurrent mint attempts for the
// same gateway transaction, so the idempotency check and the inserts are
// race-free without a cross-row unique constraint.
func (r *PostgresRepository) MintCoupons(ctx context.Context, coupons []domain.Coupon, donorCap int) ([]domain.Coupon, bool, error) {
	if len(coupons) == 0 {
		return nil, false, errors.New("mint batch must not be empty")
	}
	ref := coupons[0].PaymentRef

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ref.Gateway+":"+ref.TransactionID); err != nil {
		return nil, false, err
	}

	existingQuery := `
		SELECT ` + couponColumns + `
		FROM coupons
		WHERE gateway = $1 AND gateway_transaction_id = $2
		ORDER BY created_at ASC, code ASC
	`
	rows, err := tx.Query(ctx, existingQuery, ref.Gateway, ref.TransactionID)
	if err != nil {
		return nil, false, err
	}
	existing, err := collectCoupons(rows)
	rows.Close()
	if err != nil {
		return nil, false, err
	}

	if len(existing) > 0 {
		if existing[0].DonorID != coupons[0].DonorID || totalValue(existing) != totalValue(coupons) {
			return nil, false, ErrDuplicatePayment
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	insertQuery := `
		INSERT INTO coupons (
			id, code, qr_payload, package_id, category, face_amount, donor_id, partner_id,
			beneficiary_name, beneficiary_phone, status, max_uses, used_count,
			valid_from, valid_until, gateway, gateway_transaction_id, gateway_order_id,
			created_at, assigned_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	for _, c := range coupons {
		var beneficiaryName, beneficiaryPhone *string
		if c.Beneficiary != nil {
			beneficiaryName = &c.Beneficiary.Name
			beneficiaryPhone = &c.Beneficiary.Phone
		}
		if _, err := tx.Exec(ctx, insertQuery,
			c.ID, c.Code, c.QRPayload, c.PackageID, c.Category, c.FaceAmount, c.DonorID, c.PartnerID,
			beneficiaryName, beneficiaryPhone, c.Status, c.MaxUses, c.UsedCount,
			c.ValidFrom, c.ValidUntil, c.PaymentRef.Gateway, c.PaymentRef.TransactionID, c.PaymentRef.GatewayOrderID,
			c.CreatedAt, c.AssignedAt,
		); err != nil {
			return nil, false, err
		}
	}

	if donorCap > 0 {
		// Retention policy: archive the donor's oldest terminal coupons once the
		// live count exceeds the cap. Financially open coupons are never touched.
		archiveQuery := `
			UPDATE coupons SET archived_at = NOW()
			WHERE id IN (
				SELECT id FROM coupons
				WHERE donor_id = $1
				  AND archived_at IS NULL
				  AND status IN ('expired', 'cancelled', 'settled')
				ORDER BY created_at ASC
				LIMIT GREATEST(0, (
					SELECT COUNT(*) FROM coupons WHERE donor_id = $1 AND archived_at IS NULL
				) - $2)
			)
		`
		if _, err := tx.Exec(ctx, archiveQuery, coupons[0].DonorID, donorCap); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return coupons, false, nil
}

func totalValue(coupons []domain.Coupon) int64 {
	var total int64
	for i := range coupons {
		total += coupons[i].RedeemableValue()
	}
	return total
}

// AssignCoupon hands a coupon to a beneficiary. Valid only from the created state.
func (r *PostgresRepository) AssignCoupon(ctx context.Context, couponID uuid.UUID, b domain.Beneficiary, at time.Time) (*domain.Coupon, error) {
	query := `
		UPDATE coupons
		SET status = 'assigned', beneficiary_name = $2, beneficiary_phone = $3, assigned_at = $4
		WHERE id = $1 AND status = 'created' AND archived_at IS NULL
		RETURNING ` + couponColumns
	coupon, err := scanCoupon(r.db.QueryRow(ctx, query, couponID, b.Name, b.Phone, at))
	if err == nil {
		return coupon, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}
	// No row matched: distinguish a missing coupon from an illegal transition.
	if _, lookupErr := r.FindCouponByID(ctx, couponID); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, ErrInvalidState
}

// RedeemCouponAtomic serializes the redemption critical section on the coupon
// row. The caller supplies the used count it observed; if another redemption
// landed in between, the compare-and-swap fails and the error names the state
// the loser observed after the fact.
func (r *PostgresRepository) RedeemCouponAtomic(ctx context.Context, couponID uuid.UUID, expectedUsedCount int, partnerID uuid.UUID, at time.Time) (*domain.Coupon, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1 AND archived_at IS NULL FOR UPDATE`
	current, err := scanCoupon(tx.QueryRow(ctx, lockQuery, couponID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}

	if err := classifyRedeemState(current, expectedUsedCount); err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE coupons
		SET used_count = used_count + 1,
		    partner_id = COALESCE(partner_id, $2),
		    redeemed_at = $3,
		    status = CASE WHEN used_count + 1 >= max_uses THEN 'redeemed_pending_settlement' ELSE status END
		WHERE id = $1
		RETURNING ` + couponColumns
	updated, err := scanCoupon(tx.QueryRow(ctx, updateQuery, couponID, partnerID, at))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func classifyRedeemState(c *domain.Coupon, expectedUsedCount int) error {
	switch c.Status {
	case domain.CouponSettled:
		return ErrAlreadySettled
	case domain.CouponPendingSettlement:
		return ErrAlreadyRedeemed
	case domain.CouponCancelled:
		return ErrCouponCancelled
	case domain.CouponExpired:
		return ErrCouponExpired
	}
	if !c.Status.Redeemable() {
		return ErrInvalidState
	}
	if c.UsedCount != expectedUsedCount {
		return ErrRedeemConflict
	}
	return nil
}

// CancelCoupon voids a coupon before redemption. Valid only from created/assigned.
func (r *PostgresRepository) CancelCoupon(ctx context.Context, couponID uuid.UUID, reason string) (*domain.Coupon, error) {
	query := `
		UPDATE coupons
		SET status = 'cancelled', cancel_reason = $2
		WHERE id = $1 AND status IN ('created', 'assigned') AND archived_at IS NULL
		RETURNING ` + couponColumns
	coupon, err := scanCoupon(r.db.QueryRow(ctx, query, couponID, reason))
	if err == nil {
		return coupon, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}
	if _, lookupErr := r.FindCouponByID(ctx, couponID); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, ErrInvalidState
}

// DeleteCoupon hard-deletes a coupon with no financial history. Coupons that
// reached pending settlement or settled state are permanent records.
func (r *PostgresRepository) DeleteCoupon(ctx context.Context, couponID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM coupons
		WHERE id = $1 AND status IN ('created', 'assigned', 'expired', 'cancelled')
	`, couponID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := r.FindCouponByID(ctx, couponID); lookupErr != nil {
			return lookupErr
		}
		return ErrInvalidState
	}
	return nil
}

// markSettledInTx transitions pending coupons to settled under a batch id,
// inside the caller's settlement transaction. Re-marking with the same batch
// is a no-op; with a different batch it fails.
func markSettledInTx(ctx context.Context, tx pgx.Tx, couponIDs []uuid.UUID, batchID uuid.UUID, at time.Time) error {
	for _, couponID := range couponIDs {
		var status domain.CouponStatus
		var existingBatch *uuid.UUID
		err := tx.QueryRow(ctx, `SELECT status, settlement_batch_id FROM coupons WHERE id = $1 FOR UPDATE`, couponID).
			Scan(&status, &existingBatch)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrCouponNotFound
			}
			return err
		}

		switch status {
		case domain.CouponSettled:
			if existingBatch != nil && *existingBatch == batchID {
				continue // idempotent replay
			}
			return ErrAlreadySettled
		case domain.CouponPendingSettlement:
			if _, err := tx.Exec(ctx, `
				UPDATE coupons SET status = 'settled', settled_at = $2, settlement_batch_id = $3 WHERE id = $1
			`, couponID, at, batchID); err != nil {
				return err
			}
		default:
			return ErrInvalidState
		}
	}
	return nil
}

// ExpireOverdueCoupons transitions every overdue created/assigned coupon to
// expired. Coupons already pending settlement or settled stay payable even
// past their window. The statement is idempotent.
func (r *PostgresRepository) ExpireOverdueCoupons(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE coupons
		SET status = 'expired'
		WHERE status IN ('created', 'assigned') AND valid_until < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListCouponsNearingExpiry returns live coupons whose validity ends within the
// reminder window and which have not been notified since notNotifiedSince.
func (r *PostgresRepository) ListCouponsNearingExpiry(ctx context.Context, now time.Time, window time.Duration, notNotifiedSince time.Time) ([]domain.Coupon, error) {
	query := `
		SELECT ` + couponColumns + `
		FROM coupons
		WHERE status IN ('created', 'assigned')
		  AND archived_at IS NULL
		  AND valid_until > $1
		  AND valid_until <= $2
		  AND (last_notified_at IS NULL OR last_notified_at < $3)
		ORDER BY valid_until ASC
	`
	rows, err := r.db.Query(ctx, query, now, now.Add(window), notNotifiedSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCoupons(rows)
}

// MarkCouponReminderSent stamps the last reminder time so the sweep does not
// double-notify within a cycle.
func (r *PostgresRepository) MarkCouponReminderSent(ctx context.Context, couponID uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE coupons SET last_notified_at = $2 WHERE id = $1`, couponID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}
