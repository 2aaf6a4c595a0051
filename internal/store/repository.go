/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the wallet service. By defining an interface,
 * we decouple the ledger and payout business logic from the specific database
 * implementation (PostgreSQL in production, in-memory for tests and local dev).
 *
 * All mutating operations on a single wallet are serialized relative to each
 * other by the implementation (row locks in Postgres, a per-wallet mutex in the
 * in-memory store). A balance mutation and the Transaction recording it are
 * always applied as one atomic unit.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrDestinationNotFound = errors.New("payout destination not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrPayoutStateConflict = errors.New("payout is not in a transitionable state")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Wallet and ledger methods. CreditWallet creates the wallet on a
	// farmer's first credit-eligible event. Credit and debit are idempotent
	// by (reference, type): a replay returns the existing Transaction and
	// changes nothing.
	GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	GetWalletByFarmerID(ctx context.Context, farmerID uuid.UUID) (*domain.Wallet, error)
	CreditWallet(ctx context.Context, farmerID uuid.UUID, amount int64, reference, description, currency string) (*domain.Transaction, error)
	DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, reference, description string) (*domain.Transaction, error)
	LockFunds(ctx context.Context, walletID uuid.UUID, amount int64) error
	ReleaseFunds(ctx context.Context, walletID uuid.UUID, amount int64) error
	ListTransactions(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)

	// Payout destination methods.
	UpsertDestination(ctx context.Context, walletID uuid.UUID, dest domain.Destination) error
	FindDestinationByWalletID(ctx context.Context, walletID uuid.UUID) (*domain.Destination, error)

	// Payout methods. State transitions are compare-and-set: they only
	// apply from the expected source state and report whether they took
	// effect, so concurrent reconcilers cannot double-drive a transition.
	//
	// Transitions that move money are atomic with the fund movement:
	// CreatePayout locks the payout amount, SettlePayout records the
	// settlement debit, FailPayout and CancelPayout release the locked
	// tranche, and RequeuePayout re-locks it — all in the same storage
	// transaction as the status flip. A crash can therefore never leave a
	// payout's state disagreeing with its wallet's locked balance.
	CreatePayout(ctx context.Context, payout *domain.Payout) error
	FindPayoutByID(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error)
	FindPayoutByPSPReference(ctx context.Context, pspReference string) (*domain.Payout, error)
	MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID, pspReference string) (bool, error)
	SettlePayout(ctx context.Context, payoutID uuid.UUID, description string) (*domain.Payout, bool, error)
	FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, error)
	CancelPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, bool, error)
	RequeuePayout(ctx context.Context, payoutID uuid.UUID) (bool, error)
	HasInFlightPayout(ctx context.Context, walletID uuid.UUID) (bool, error)

	// Scheduler and reconciliation scans.
	ListEligibleWallets(ctx context.Context, threshold int64) ([]domain.Wallet, error)
	ListRetryablePayouts(ctx context.Context, maxRetries int) ([]domain.Payout, error)
	ListStaleProcessingPayouts(ctx context.Context, olderThan time.Time) ([]domain.Payout, error)
	ListPayouts(ctx context.Context, walletID uuid.UUID, opts domain.PayoutListOptions) ([]domain.Payout, error)
}
