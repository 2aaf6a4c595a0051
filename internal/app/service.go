/**
 * @description
 * This file contains the core application service for the farmer wallet.
 * It orchestrates the ledger operations (credits, balance reads, history)
 * and owns the shared plumbing used by the payout state machine: the
 * repository, the PSP gateway and the event producer.
 *
 * @dependencies
 * - internal/store: The data access layer.
 * - internal/domain: The core domain models.
 * - pkg/rabbitmq: For publishing domain events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/store"
	"github.com/qraft-Inc/coffeetrace-sub001/pkg/rabbitmq"
)

// EventsExchange is the topic exchange all wallet and payout events are
// published to.
const EventsExchange = "coffeetrace.events"

const routingKeyPayoutStatusPrefix = "payout.status."

var (
	ErrInvalidAmount        = errors.New("amount must be a positive integer in minor units")
	ErrMissingReference     = errors.New("reference is required")
	ErrInvalidDestination   = errors.New("destination network and msisdn are required")
	ErrBelowMinimumPayout   = errors.New("available balance is below the minimum payout amount")
	ErrPayoutInFlight       = errors.New("wallet already has a payout in flight")
	ErrPayoutNotCancellable = errors.New("payout can no longer be cancelled")
)

var msisdnPattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// Params carries the tunable policy knobs of the payout pipeline.
type Params struct {
	Currency              string
	DisbursementThreshold int64
	MinPayoutAmount       int64
	MaxRetries            int
	ProcessingTimeout     time.Duration
}

// Service provides the business logic for the wallet ledger and payouts.
type Service struct {
	repo     store.Repository
	gateway  Gateway
	producer rabbitmq.Publisher
	params   Params
}

// NewService creates a new instance of the wallet service.
func NewService(repo store.Repository, gateway Gateway, producer rabbitmq.Publisher, params Params) *Service {
	if params.Currency == "" {
		params.Currency = "UGX"
	}
	if params.DisbursementThreshold <= 0 {
		params.DisbursementThreshold = 50000
	}
	if params.MinPayoutAmount <= 0 {
		params.MinPayoutAmount = params.DisbursementThreshold
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = 3
	}
	if params.ProcessingTimeout <= 0 {
		params.ProcessingTimeout = 30 * time.Minute
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &Service{repo: repo, gateway: gateway, producer: producer, params: params}
}

// Credit applies a credit-eligible event to the farmer's wallet, creating the
// wallet on first use. Replays of the same reference return the original
// ledger entry and change nothing.
func (s *Service) Credit(ctx context.Context, req domain.CreditRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, ErrMissingReference
	}
	if req.FarmerID == uuid.Nil {
		return nil, fmt.Errorf("farmer id is required")
	}

	tx, err := s.repo.CreditWallet(ctx, req.FarmerID, req.Amount, req.Reference, req.Description, s.params.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}
	log.Printf("level=info component=wallet_service op=credit farmer_id=%s amount=%d reference=%s transaction_id=%s", req.FarmerID, req.Amount, req.Reference, tx.ID)
	return tx, nil
}

// GetBalance returns the current balance snapshot for a farmer's wallet.
func (s *Service) GetBalance(ctx context.Context, farmerID uuid.UUID) (*domain.Balance, error) {
	w, err := s.repo.GetWalletByFarmerID(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{
		WalletID:      w.ID,
		Balance:       w.Balance,
		LockedBalance: w.LockedBalance,
		Currency:      w.Currency,
	}, nil
}

// ListTransactions returns a page of the farmer's ledger history.
func (s *Service) ListTransactions(ctx context.Context, farmerID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	w, err := s.repo.GetWalletByFarmerID(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, w.ID, opts)
}

// ListPayouts returns a page of the farmer's payout history.
func (s *Service) ListPayouts(ctx context.Context, farmerID uuid.UUID, opts domain.PayoutListOptions) ([]domain.Payout, error) {
	w, err := s.repo.GetWalletByFarmerID(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPayouts(ctx, w.ID, opts)
}

// SetDestination registers or replaces the mobile-money destination that
// future payouts for the farmer's wallet will be sent to.
func (s *Service) SetDestination(ctx context.Context, farmerID uuid.UUID, dest domain.Destination) error {
	dest.Network = strings.ToLower(strings.TrimSpace(dest.Network))
	dest.MSISDN = strings.TrimSpace(dest.MSISDN)
	if dest.Network == "" || !msisdnPattern.MatchString(dest.MSISDN) {
		return ErrInvalidDestination
	}

	w, err := s.repo.GetWalletByFarmerID(ctx, farmerID)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertDestination(ctx, w.ID, dest); err != nil {
		return fmt.Errorf("failed to upsert destination: %w", err)
	}
	log.Printf("level=info component=wallet_service op=set_destination wallet_id=%s network=%s", w.ID, dest.Network)
	return nil
}

// GetDestination returns the registered destination for a farmer's wallet.
func (s *Service) GetDestination(ctx context.Context, farmerID uuid.UUID) (*domain.Destination, error) {
	w, err := s.repo.GetWalletByFarmerID(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindDestinationByWalletID(ctx, w.ID)
}

// GetPayout returns a single payout by its id.
func (s *Service) GetPayout(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	return s.repo.FindPayoutByID(ctx, payoutID)
}

// publishPayoutStatus emits a payout status event. Event delivery is
// best-effort: a broker outage must never block the state machine.
func (s *Service) publishPayoutStatus(ctx context.Context, p *domain.Payout) {
	payload := domain.PayoutStatusPayload{
		PayoutID:   p.ID,
		WalletID:   p.WalletID,
		Amount:     p.Amount,
		Status:     p.Status,
		RetryCount: p.RetryCount,
		Timestamp:  time.Now().UTC(),
	}
	if p.FailureReason != nil {
		payload.FailureReason = *p.FailureReason
	}
	if err := s.producer.Publish(ctx, EventsExchange, routingKeyPayoutStatusPrefix+p.Status, payload); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"failed to publish payout status event\" payout_id=%s status=%s err=%v", p.ID, p.Status, err)
	}
}
