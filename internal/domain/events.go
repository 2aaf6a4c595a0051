package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreditEvent is the message payload consumed from RabbitMQ when a
// ledger-affecting event (tip captured, lot sale settled) occurs elsewhere
// in the platform.
type CreditEvent struct {
	FarmerID    uuid.UUID `json:"farmer_id"`
	Amount      int64     `json:"amount"`
	Reference   string    `json:"reference"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PSPStatusEvent is the normalized shape of an asynchronous PSP status
// update, whether it arrived on the webhook or the message queue.
type PSPStatusEvent struct {
	PSPReference string `json:"psp_reference"`
	Status       string `json:"status"` // 'success' or 'failed'
	Detail       string `json:"detail,omitempty"`
}

// PayoutStatusPayload is published to RabbitMQ whenever a payout changes
// state, for consumption by notification and analytics services.
type PayoutStatusPayload struct {
	PayoutID      uuid.UUID `json:"payout_id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	RetryCount    int       `json:"retry_count"`
	Timestamp     time.Time `json:"timestamp"`
}
