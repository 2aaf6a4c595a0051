/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to wallets, ledger transactions, payout destinations, and payouts.
 *
 * Per-wallet serialization is implemented with row locks: every ledger mutation
 * opens a transaction, takes `SELECT ... FOR UPDATE` on the wallet row, applies
 * the balance change together with the transaction insert, and commits.
 *
 * Payout transitions that move money lock the payout row first and apply the
 * status flip and the wallet mutation inside the same database transaction.
 * Concurrent settle/fail/cancel attempts on one payout serialize on that row
 * lock, and a crash can never leave the payout state disagreeing with the
 * wallet's locked balance.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, farmer_id, balance, locked_balance, currency, created_at, updated_at`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.FarmerID, &w.Balance, &w.LockedBalance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWallet retrieves a wallet by its ID.
func (r *PostgresRepository) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, walletID))
}

// GetWalletByFarmerID retrieves a wallet by its owning farmer.
func (r *PostgresRepository) GetWalletByFarmerID(ctx context.Context, farmerID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE farmer_id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, farmerID))
}

// findTransactionByReference looks up an existing ledger entry for an
// idempotency key inside an open database transaction.
func findTransactionByReference(ctx context.Context, tx pgx.Tx, reference, txType string) (*domain.Transaction, error) {
	query := `
		SELECT id, wallet_id, type, amount, reference, balance_before, balance_after, status, description, created_at
		FROM transactions
		WHERE reference = $1 AND type = $2
	`
	var t domain.Transaction
	err := tx.QueryRow(ctx, query, reference, txType).Scan(
		&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.Reference,
		&t.BalanceBefore, &t.BalanceAfter, &t.Status, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, wallet_id, type, amount, reference, balance_before, balance_after, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	return tx.QueryRow(ctx, query,
		t.ID, t.WalletID, t.Type, t.Amount, t.Reference,
		t.BalanceBefore, t.BalanceAfter, t.Status, t.Description,
	).Scan(&t.CreatedAt)
}

// CreditWallet atomically increases a wallet balance and appends the credit
// transaction that records it. The wallet is created on the farmer's first
// credit. Replaying a reference is a no-op that returns the existing entry.
func (r *PostgresRepository) CreditWallet(ctx context.Context, farmerID uuid.UUID, amount int64, reference, description, currency string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	record, err := r.creditWalletTx(ctx, farmerID, amount, reference, description, currency)
	if isUniqueViolation(err) {
		// Lost a concurrent race on the farmer_id or (reference, type) unique
		// key. The winner's rows are committed, so a second attempt finds the
		// wallet and resolves the reference as an idempotent replay.
		record, err = r.creditWalletTx(ctx, farmerID, amount, reference, description, currency)
	}
	return record, err
}

func (r *PostgresRepository) creditWalletTx(ctx context.Context, farmerID uuid.UUID, amount int64, reference, description, currency string) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Use FOR UPDATE to lock the row, preventing race conditions.
	var w domain.Wallet
	err = tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE farmer_id = $1 FOR UPDATE`, farmerID).
		Scan(&w.ID, &w.FarmerID, &w.Balance, &w.LockedBalance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err == pgx.ErrNoRows {
		w = domain.Wallet{ID: uuid.New(), FarmerID: farmerID, Currency: currency}
		_, err = tx.Exec(ctx, `INSERT INTO wallets (id, farmer_id, balance, locked_balance, currency) VALUES ($1, $2, 0, 0, $3)`, w.ID, w.FarmerID, w.Currency)
	}
	if err != nil {
		return nil, err
	}

	if existing, err := findTransactionByReference(ctx, tx, reference, domain.TransactionTypeCredit); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	record := &domain.Transaction{
		ID:            uuid.New(),
		WalletID:      w.ID,
		Type:          domain.TransactionTypeCredit,
		Amount:        amount,
		Reference:     reference,
		BalanceBefore: w.Balance,
		BalanceAfter:  w.Balance + amount,
		Status:        "completed",
		Description:   description,
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, amount, w.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// DebitWallet settles a successful payout: it decreases the balance, consumes
// the matching locked tranche, and appends the debit transaction. Replaying a
// reference is a no-op that returns the existing entry.
func (r *PostgresRepository) DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, reference, description string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	record, err := r.debitWalletTx(ctx, walletID, amount, reference, description)
	if isUniqueViolation(err) {
		record, err = r.debitWalletTx(ctx, walletID, amount, reference, description)
	}
	return record, err
}

func (r *PostgresRepository) debitWalletTx(ctx context.Context, walletID uuid.UUID, amount int64, reference, description string) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance, locked int64
	err = tx.QueryRow(ctx, `SELECT balance, locked_balance FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&balance, &locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	if existing, err := findTransactionByReference(ctx, tx, reference, domain.TransactionTypeDebit); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if balance < amount {
		return nil, ErrInsufficientFunds
	}

	record := &domain.Transaction{
		ID:            uuid.New(),
		WalletID:      walletID,
		Type:          domain.TransactionTypeDebit,
		Amount:        amount,
		Reference:     reference,
		BalanceBefore: balance,
		BalanceAfter:  balance - amount,
		Status:        "completed",
		Description:   description,
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $1, locked_balance = GREATEST(locked_balance - $1, 0), updated_at = NOW() WHERE id = $2`,
		amount, walletID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// LockFunds reserves part of the available balance for an in-flight payout.
func (r *PostgresRepository) LockFunds(ctx context.Context, walletID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("lock amount must be positive, got %d", amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance, locked int64
	err = tx.QueryRow(ctx, `SELECT balance, locked_balance FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&balance, &locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrWalletNotFound
		}
		return err
	}

	if amount > balance-locked {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET locked_balance = locked_balance + $1, updated_at = NOW() WHERE id = $2`, amount, walletID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ReleaseFunds returns a reserved tranche to the available balance. It never
// drives the locked balance below zero.
func (r *PostgresRepository) ReleaseFunds(ctx context.Context, walletID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("release amount must be positive, got %d", amount)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE wallets SET locked_balance = GREATEST(locked_balance - $1, 0), updated_at = NOW() WHERE id = $2`,
		amount, walletID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// ListTransactions returns a page of ledger history, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	query := `
		SELECT id, wallet_id, type, amount, reference, balance_before, balance_after, status, description, created_at
		FROM transactions
		WHERE wallet_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, walletID, opts.Type, normalizeLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.Reference,
			&t.BalanceBefore, &t.BalanceAfter, &t.Status, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// UpsertDestination stores or replaces the mobile-money destination for a wallet.
func (r *PostgresRepository) UpsertDestination(ctx context.Context, walletID uuid.UUID, dest domain.Destination) error {
	query := `
		INSERT INTO payout_destinations (wallet_id, network, msisdn)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_id) DO UPDATE SET network = EXCLUDED.network, msisdn = EXCLUDED.msisdn, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, walletID, dest.Network, dest.MSISDN)
	return err
}

// FindDestinationByWalletID retrieves a wallet's mobile-money destination.
func (r *PostgresRepository) FindDestinationByWalletID(ctx context.Context, walletID uuid.UUID) (*domain.Destination, error) {
	var dest domain.Destination
	err := r.db.QueryRow(ctx, `SELECT network, msisdn FROM payout_destinations WHERE wallet_id = $1`, walletID).
		Scan(&dest.Network, &dest.MSISDN)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDestinationNotFound
		}
		return nil, err
	}
	return &dest, nil
}

const payoutColumns = `id, wallet_id, amount, currency, destination_network, destination_msisdn, status,
       psp_reference, failure_reason, retry_count, initiated_at, executed_at, completed_at, updated_at`

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	err := row.Scan(
		&p.ID, &p.WalletID, &p.Amount, &p.Currency, &p.Destination.Network, &p.Destination.MSISDN, &p.Status,
		&p.PSPReference, &p.FailureReason, &p.RetryCount, &p.InitiatedAt, &p.ExecutedAt, &p.CompletedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreatePayout locks the payout amount in the wallet and inserts the pending
// payout record in one transaction. If the insert trips the one-in-flight
// partial unique index the whole transaction rolls back, lock included.
func (r *PostgresRepository) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	if payout.Amount <= 0 {
		return fmt.Errorf("payout amount must be positive, got %d", payout.Amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance, locked int64
	err = tx.QueryRow(ctx, `SELECT balance, locked_balance FROM wallets WHERE id = $1 FOR UPDATE`, payout.WalletID).Scan(&balance, &locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrWalletNotFound
		}
		return err
	}
	if payout.Amount > balance-locked {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET locked_balance = locked_balance + $1, updated_at = NOW() WHERE id = $2`, payout.Amount, payout.WalletID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payouts (id, wallet_id, amount, currency, destination_network, destination_msisdn, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING initiated_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		payout.ID, payout.WalletID, payout.Amount, payout.Currency,
		payout.Destination.Network, payout.Destination.MSISDN, payout.Status, payout.RetryCount,
	).Scan(&payout.InitiatedAt, &payout.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// lockPayoutRow takes the payout row lock that serializes every
// fund-moving transition for one payout.
func lockPayoutRow(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID) (*domain.Payout, error) {
	return scanPayout(tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, payoutID))
}

// FindPayoutByID retrieves a payout by its ID.
func (r *PostgresRepository) FindPayoutByID(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	return scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, payoutID))
}

// FindPayoutByPSPReference retrieves a payout by the reference assigned by the PSP.
func (r *PostgresRepository) FindPayoutByPSPReference(ctx context.Context, pspReference string) (*domain.Payout, error) {
	return scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE psp_reference = $1`, pspReference))
}

// MarkPayoutProcessing transitions pending -> processing and stamps the
// execution time. Returns false if the payout was not pending.
func (r *PostgresRepository) MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID, pspReference string) (bool, error) {
	query := `
		UPDATE payouts
		SET status = 'processing', psp_reference = $2, executed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, payoutID, pspReference)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SettlePayout transitions processing -> success and records the settlement
// debit (reference = payout id), consuming the locked tranche, all in one
// transaction. Returns applied=false without touching funds when the payout
// is no longer processing.
func (r *PostgresRepository) SettlePayout(ctx context.Context, payoutID uuid.UUID, description string) (*domain.Payout, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	p, err := lockPayoutRow(ctx, tx, payoutID)
	if err != nil {
		return nil, false, err
	}
	if p.Status != domain.PayoutStatusProcessing {
		return p, false, nil
	}

	var balance, locked int64
	err = tx.QueryRow(ctx, `SELECT balance, locked_balance FROM wallets WHERE id = $1 FOR UPDATE`, p.WalletID).Scan(&balance, &locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, ErrWalletNotFound
		}
		return nil, false, err
	}

	existing, err := findTransactionByReference(ctx, tx, p.ID.String(), domain.TransactionTypeDebit)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		if balance < p.Amount {
			return nil, false, ErrInsufficientFunds
		}
		record := &domain.Transaction{
			ID:            uuid.New(),
			WalletID:      p.WalletID,
			Type:          domain.TransactionTypeDebit,
			Amount:        p.Amount,
			Reference:     p.ID.String(),
			BalanceBefore: balance,
			BalanceAfter:  balance - p.Amount,
			Status:        "completed",
			Description:   description,
		}
		if err := insertTransaction(ctx, tx, record); err != nil {
			return nil, false, err
		}
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET balance = balance - $1, locked_balance = GREATEST(locked_balance - $1, 0), updated_at = NOW() WHERE id = $2`,
			p.Amount, p.WalletID,
		)
		if err != nil {
			return nil, false, err
		}
	}

	query := `
		UPDATE payouts
		SET status = 'success', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + payoutColumns
	p, err = scanPayout(tx.QueryRow(ctx, query, payoutID))
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// FailPayout transitions an in-flight payout to failed, increments its retry
// count and releases the locked tranche in the same transaction. Returns
// ErrPayoutStateConflict if the payout was already terminal, so duplicate
// failure reports resolve to no-ops.
func (r *PostgresRepository) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := lockPayoutRow(ctx, tx, payoutID)
	if err != nil {
		if err == ErrPayoutNotFound {
			return nil, ErrPayoutStateConflict
		}
		return nil, err
	}
	if !p.InFlight() {
		return nil, ErrPayoutStateConflict
	}

	query := `
		UPDATE payouts
		SET status = 'failed', failure_reason = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + payoutColumns
	p, err = scanPayout(tx.QueryRow(ctx, query, payoutID, reason))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET locked_balance = GREATEST(locked_balance - $1, 0), updated_at = NOW() WHERE id = $2`,
		p.Amount, p.WalletID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// CancelPayout transitions an in-flight payout to cancelled and releases the
// locked tranche in the same transaction.
func (r *PostgresRepository) CancelPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	p, err := lockPayoutRow(ctx, tx, payoutID)
	if err != nil {
		return nil, false, err
	}
	if !p.InFlight() {
		return p, false, nil
	}

	query := `
		UPDATE payouts
		SET status = 'cancelled', failure_reason = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + payoutColumns
	p, err = scanPayout(tx.QueryRow(ctx, query, payoutID, reason))
	if err != nil {
		return nil, false, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET locked_balance = GREATEST(locked_balance - $1, 0), updated_at = NOW() WHERE id = $2`,
		p.Amount, p.WalletID,
	)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// RequeuePayout transitions failed -> pending for the next scheduler pass,
// re-locking the payout amount in the same transaction. The PSP reference is
// cleared so a stale callback cannot match the new attempt.
func (r *PostgresRepository) RequeuePayout(ctx context.Context, payoutID uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	p, err := lockPayoutRow(ctx, tx, payoutID)
	if err != nil {
		if err == ErrPayoutNotFound {
			return false, nil
		}
		return false, err
	}
	if p.Status != domain.PayoutStatusFailed {
		return false, nil
	}

	var balance, locked int64
	err = tx.QueryRow(ctx, `SELECT balance, locked_balance FROM wallets WHERE id = $1 FOR UPDATE`, p.WalletID).Scan(&balance, &locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrWalletNotFound
		}
		return false, err
	}
	if p.Amount > balance-locked {
		return false, ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET locked_balance = locked_balance + $1, updated_at = NOW() WHERE id = $2`, p.Amount, p.WalletID)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE payouts
		SET status = 'pending', psp_reference = NULL, executed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, payoutID); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// HasInFlightPayout reports whether a wallet already has a pending or
// processing payout outstanding.
func (r *PostgresRepository) HasInFlightPayout(ctx context.Context, walletID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payouts WHERE wallet_id = $1 AND status IN ('pending', 'processing'))`,
		walletID,
	).Scan(&exists)
	return exists, err
}

// ListEligibleWallets returns wallets whose available balance meets the
// disbursement threshold.
func (r *PostgresRepository) ListEligibleWallets(ctx context.Context, threshold int64) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE balance - locked_balance >= $1 ORDER BY updated_at ASC`
	rows, err := r.db.Query(ctx, query, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.ID, &w.FarmerID, &w.Balance, &w.LockedBalance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ListRetryablePayouts returns failed payouts that still have retry budget.
func (r *PostgresRepository) ListRetryablePayouts(ctx context.Context, maxRetries int) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE status = 'failed' AND retry_count < $1 ORDER BY updated_at ASC`
	return r.queryPayouts(ctx, query, maxRetries)
}

// ListStaleProcessingPayouts returns processing payouts whose execution is
// older than the given cutoff and that never received a callback.
func (r *PostgresRepository) ListStaleProcessingPayouts(ctx context.Context, olderThan time.Time) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE status = 'processing' AND executed_at < $1 ORDER BY executed_at ASC`
	return r.queryPayouts(ctx, query, olderThan)
}

// ListPayouts returns a page of payout history for a wallet, newest first.
func (r *PostgresRepository) ListPayouts(ctx context.Context, walletID uuid.UUID, opts domain.PayoutListOptions) ([]domain.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE wallet_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY initiated_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryPayouts(ctx, query, walletID, opts.Status, normalizeLimit(opts.Limit), opts.Offset)
}

func (r *PostgresRepository) queryPayouts(ctx context.Context, query string, args ...interface{}) ([]domain.Payout, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		var p domain.Payout
		if err := rows.Scan(
			&p.ID, &p.WalletID, &p.Amount, &p.Currency, &p.Destination.Network, &p.Destination.MSISDN, &p.Status,
			&p.PSPReference, &p.FailureReason, &p.RetryCount, &p.InitiatedAt, &p.ExecutedAt, &p.CompletedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
