/**
 * @description
 * This file defines the core domain models for the farmer wallet ledger.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit, which avoids floating-point inaccuracies with financial data.
 * - Transactions are append-only: a wallet balance only ever changes together
 *   with the insertion of the Transaction that records the change.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types.
const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"
)

// Wallet represents a farmer's accumulated-funds account on the platform.
// This struct maps directly to the `wallets` table in the database.
type Wallet struct {
	ID            uuid.UUID `json:"id"`
	FarmerID      uuid.UUID `json:"farmer_id"`
	Balance       int64     `json:"balance"`        // available funds, in minor units
	LockedBalance int64     `json:"locked_balance"` // funds reserved for in-flight payouts
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available returns the spendable portion of the wallet balance.
func (w *Wallet) Available() int64 {
	return w.Balance - w.LockedBalance
}

// Transaction is the immutable ledger record for a single balance change.
// The (reference, type) pair is unique: replaying a credit or debit with the
// same reference has no further effect.
type Transaction struct {
	ID            uuid.UUID `json:"id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	Type          string    `json:"type"` // 'credit' or 'debit'
	Amount        int64     `json:"amount"`
	Reference     string    `json:"reference"` // external idempotency key, e.g. tip id or payout id
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	Status        string    `json:"status"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// Balance is the read-only snapshot returned to dashboard callers.
type Balance struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	Balance       int64     `json:"balance"`
	LockedBalance int64     `json:"locked_balance"`
	Currency      string    `json:"currency"`
}

// CreditRequest is the DTO for incoming credit events, whether they arrive
// over the internal HTTP endpoint or the message queue.
type CreditRequest struct {
	FarmerID    uuid.UUID `json:"farmer_id"`
	Amount      int64     `json:"amount"`
	Reference   string    `json:"reference"`
	Description string    `json:"description"`
}

// TransactionListOptions controls pagination and filtering of ledger history.
type TransactionListOptions struct {
	Type   string // 'credit', 'debit' or empty for all
	Limit  int
	Offset int
}

// PayoutListOptions controls pagination and filtering of payout history.
type PayoutListOptions struct {
	Status string
	Limit  int
	Offset int
}
