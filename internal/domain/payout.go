/**
 * @description
 * Payout domain model and its state machine vocabulary. A Payout is a single
 * attempt to disburse locked wallet funds to an external mobile-money
 * destination via the PSP.
 *
 * State machine:
 *   pending -> processing -> {success | failed | cancelled}
 * with a failed -> pending retry edge while RetryCount < the configured
 * maximum. While a payout is pending or processing its amount is held in the
 * wallet's locked balance; success converts the lock into a debit
 * transaction, failure and cancellation release it.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payout statuses.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusSuccess    = "success"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

// Destination identifies a mobile-money account.
type Destination struct {
	Network string `json:"network"` // e.g. 'mtn', 'airtel'
	MSISDN  string `json:"msisdn"`
}

// Payout maps directly to the `payouts` table in the database.
type Payout struct {
	ID            uuid.UUID   `json:"id"`
	WalletID      uuid.UUID   `json:"wallet_id"`
	Amount        int64       `json:"amount"`
	Currency      string      `json:"currency"`
	Destination   Destination `json:"destination"`
	Status        string      `json:"status"`
	PSPReference  *string     `json:"psp_reference,omitempty"`
	FailureReason *string     `json:"failure_reason,omitempty"`
	RetryCount    int         `json:"retry_count"`
	InitiatedAt   time.Time   `json:"initiated_at"`
	ExecutedAt    *time.Time  `json:"executed_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsTerminal reports whether the payout can never change state again.
// A failed payout is only terminal once its retry budget is spent.
func (p *Payout) IsTerminal(maxRetries int) bool {
	switch p.Status {
	case PayoutStatusSuccess, PayoutStatusCancelled:
		return true
	case PayoutStatusFailed:
		return p.RetryCount >= maxRetries
	default:
		return false
	}
}

// InFlight reports whether the payout currently holds locked wallet funds.
func (p *Payout) InFlight() bool {
	return p.Status == PayoutStatusPending || p.Status == PayoutStatusProcessing
}
