/**
 * @description
 * This file provides the PostgreSQL implementation of the wallet ledger and
 * settlement operations. Credits and debits re-read the wallet row under a
 * `FOR UPDATE` lock inside the same transaction as the write, so the balance
 * invariant (`current_balance == total_received - total_settled`, never
 * negative) holds under concurrent settlements. Settlement is multi-entity
 * atomic: the wallet debit, the coupon settled marks, and the batch record
 * commit together or not at all.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver; pgconn for unique-violation detection.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sevasetu/coupon-service/internal/domain"
)

const uniqueViolationCode = "23505"

const walletColumns = `
	id, vendor_id, vendor_type, current_balance, total_received, total_settled,
	status, status_reason, created_at, updated_at`

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID, &w.VendorID, &w.VendorType, &w.CurrentBalance, &w.TotalReceived,
		&w.TotalSettled, &w.Status, &w.StatusReason, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreateWallet returns the vendor's wallet, creating it on first use.
// The INSERT ... ON CONFLICT DO NOTHING makes concurrent first-redemption
// events for the same new vendor converge on a single row.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, vendorID uuid.UUID, vendorType domain.VendorType) (*domain.Wallet, error) {
	insertQuery := `
		INSERT INTO wallets (id, vendor_id, vendor_type, current_balance, total_received, total_settled, status)
		VALUES ($1, $2, $3, 0, 0, 0, 'active')
		ON CONFLICT (vendor_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insertQuery, uuid.New(), vendorID, vendorType); err != nil {
		return nil, err
	}
	return r.FindWalletByVendorID(ctx, vendorID)
}

// FindWalletByID retrieves a wallet by its unique ID.
func (r *PostgresRepository) FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	wallet, err := scanWallet(r.db.QueryRow(ctx, query, walletID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// FindWalletByVendorID retrieves the wallet owned by a vendor.
func (r *PostgresRepository) FindWalletByVendorID(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE vendor_id = $1`
	wallet, err := scanWallet(r.db.QueryRow(ctx, query, vendorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// CreditWallet increases the wallet balance and total received. Each source
// coupon gets a ledger row with a unique constraint, so replaying a credit for
// an already-credited coupon batch fails with ErrDuplicateCredit and leaves
// the balance untouched.
func (r *PostgresRepository) CreditWallet(ctx context.Context, walletID uuid.UUID, amount int64, sourceCouponIDs []uuid.UUID, referenceNo string) (*domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	wallet, err := scanWallet(tx.QueryRow(ctx, lockQuery, walletID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if err := walletWritable(wallet); err != nil {
		return nil, err
	}

	creditID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_credits (id, wallet_id, amount, reference_no) VALUES ($1, $2, $3, $4)
	`, creditID, walletID, amount, referenceNo); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// Coupon credits key their reference on the coupon code, so a
			// reference replay there is the same coupon replay.
			if len(sourceCouponIDs) > 0 {
				return nil, ErrDuplicateCredit
			}
			return nil, ErrDuplicateReference
		}
		return nil, err
	}

	for _, couponID := range sourceCouponIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO wallet_credit_coupons (credit_id, coupon_id) VALUES ($1, $2)
		`, creditID, couponID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
				return nil, ErrDuplicateCredit
			}
			return nil, err
		}
	}

	updateQuery := `
		UPDATE wallets
		SET current_balance = current_balance + $2,
		    total_received = total_received + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + walletColumns
	updated, err := scanWallet(tx.QueryRow(ctx, updateQuery, walletID, amount))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// DebitWallet decreases the wallet balance and increases total settled. The
// balance check happens on the locked row in the same transaction as the
// write; there is no read-then-write gap.
func (r *PostgresRepository) DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, referenceNo string) (*domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := debitWalletInTx(ctx, tx, walletID, amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return wallet, nil
}

func debitWalletInTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount int64) (*domain.Wallet, error) {
	lockQuery := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	wallet, err := scanWallet(tx.QueryRow(ctx, lockQuery, walletID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if err := walletWritable(wallet); err != nil {
		return nil, err
	}
	if wallet.CurrentBalance < amount {
		return nil, ErrInsufficientBalance
	}

	updateQuery := `
		UPDATE wallets
		SET current_balance = current_balance - $2,
		    total_settled = total_settled + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + walletColumns
	return scanWallet(tx.QueryRow(ctx, updateQuery, walletID, amount))
}

func walletWritable(w *domain.Wallet) error {
	switch w.Status {
	case domain.WalletSuspended:
		return ErrWalletSuspended
	case domain.WalletClosed:
		return ErrWalletClosed
	}
	return nil
}

// UpdateWalletStatus applies an administrative status change. Closing is only
// permitted once the balance has been fully settled.
func (r *PostgresRepository) UpdateWalletStatus(ctx context.Context, walletID uuid.UUID, status domain.WalletStatus, reason string) (*domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	wallet, err := scanWallet(tx.QueryRow(ctx, lockQuery, walletID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if status == domain.WalletClosed && wallet.CurrentBalance != 0 {
		return nil, ErrWalletNotEmpty
	}

	var statusReason *string
	if reason != "" {
		statusReason = &reason
	}
	updateQuery := `
		UPDATE wallets SET status = $2, status_reason = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + walletColumns
	updated, err := scanWallet(tx.QueryRow(ctx, updateQuery, walletID, status, statusReason))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// SettleWalletAtomic pays out a wallet against its oldest pending coupons.
// Coverage is FIFO by redeemed_at: the maximal prefix whose summed redeemable
// value fits within the requested amount. The debit equals the covered sum,
// so every settled coupon is backed by money and every debited paisa is backed
// by a settled coupon.
func (r *PostgresRepository) SettleWalletAtomic(ctx context.Context, walletID uuid.UUID, amount int64, approvedBy, referenceNo string, batchID uuid.UUID, at time.Time) (*domain.SettlementBatch, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	wallet, err := scanWallet(tx.QueryRow(ctx, lockQuery, walletID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if err := walletWritable(wallet); err != nil {
		return nil, err
	}
	if amount > wallet.CurrentBalance {
		return nil, ErrInsufficientBalance
	}

	// Lock the vendor's pending coupons in redemption order.
	pendingQuery := `
		SELECT id, face_amount, max_uses
		FROM coupons
		WHERE partner_id = $1 AND status = 'redeemed_pending_settlement'
		ORDER BY redeemed_at ASC, id ASC
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, pendingQuery, wallet.VendorID)
	if err != nil {
		return nil, err
	}

	var covered []uuid.UUID
	var coveredSum int64
	for rows.Next() {
		var id uuid.UUID
		var faceAmount int64
		var maxUses int
		if err := rows.Scan(&id, &faceAmount, &maxUses); err != nil {
			rows.Close()
			return nil, err
		}
		value := faceAmount * int64(maxUses)
		if coveredSum+value > amount {
			break
		}
		covered = append(covered, id)
		coveredSum += value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(covered) == 0 {
		return nil, ErrNothingToSettle
	}

	if err := markSettledInTx(ctx, tx, covered, batchID, at); err != nil {
		return nil, err
	}

	if _, err := debitWalletInTx(ctx, tx, walletID, coveredSum); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO settlement_batches (id, wallet_id, amount, approved_by, reference_no, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, batchID, walletID, coveredSum, approvedBy, referenceNo, at); err != nil {
		return nil, err
	}
	for _, couponID := range covered {
		if _, err := tx.Exec(ctx, `
			INSERT INTO settlement_batch_coupons (batch_id, coupon_id) VALUES ($1, $2)
		`, batchID, couponID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
				return nil, ErrAlreadySettled
			}
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &domain.SettlementBatch{
		ID:               batchID,
		WalletID:         walletID,
		Amount:           coveredSum,
		ApprovedBy:       approvedBy,
		ReferenceNo:      referenceNo,
		CoveredCouponIDs: covered,
		CreatedAt:        at,
	}, nil
}

// FindSettlementBatchByID retrieves a settlement batch with its covered coupons.
func (r *PostgresRepository) FindSettlementBatchByID(ctx context.Context, batchID uuid.UUID) (*domain.SettlementBatch, error) {
	query := `
		SELECT b.id, b.wallet_id, b.amount, b.approved_by, b.reference_no, b.created_at,
		       COALESCE(array_agg(bc.coupon_id) FILTER (WHERE bc.coupon_id IS NOT NULL), '{}')
		FROM settlement_batches b
		LEFT JOIN settlement_batch_coupons bc ON bc.batch_id = b.id
		WHERE b.id = $1
		GROUP BY b.id
	`
	var batch domain.SettlementBatch
	err := r.db.QueryRow(ctx, query, batchID).Scan(
		&batch.ID, &batch.WalletID, &batch.Amount, &batch.ApprovedBy,
		&batch.ReferenceNo, &batch.CreatedAt, &batch.CoveredCouponIDs,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// ListSettlementBatchesByWallet retrieves a wallet's settlement history, newest first.
func (r *PostgresRepository) ListSettlementBatchesByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.SettlementBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT b.id, b.wallet_id, b.amount, b.approved_by, b.reference_no, b.created_at,
		       COALESCE(array_agg(bc.coupon_id) FILTER (WHERE bc.coupon_id IS NOT NULL), '{}')
		FROM settlement_batches b
		LEFT JOIN settlement_batch_coupons bc ON bc.batch_id = b.id
		WHERE b.wallet_id = $1
		GROUP BY b.id
		ORDER BY b.created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []domain.SettlementBatch
	for rows.Next() {
		var batch domain.SettlementBatch
		if err := rows.Scan(
			&batch.ID, &batch.WalletID, &batch.Amount, &batch.ApprovedBy,
			&batch.ReferenceNo, &batch.CreatedAt, &batch.CoveredCouponIDs,
		); err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}
