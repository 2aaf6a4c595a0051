/**
 * @description
 * Payout state machine. A payout moves pending -> processing ->
 * {success | failed | cancelled}, with a bounded failed -> pending retry
 * edge that is only taken by the scheduler on its next pass.
 *
 * Fund movement is a saga against the wallet ledger:
 *   - creation locks the payout amount in the wallet,
 *   - success converts the lock into an idempotent debit keyed by the
 *     payout id,
 *   - failure and cancellation release the lock.
 * Each of these transitions commits the status flip and the fund movement
 * as one atomic repository operation, so a settlement racing a timeout
 * failure resolves to exactly one of the two, and a crash mid-transition
 * can never strand locked funds.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/store"
	"github.com/qraft-Inc/coffeetrace-sub001/pkg/pspclient"
)

// FailureReasonTimeout marks payouts failed by the staleness sweep rather
// than an explicit PSP response.
const FailureReasonTimeout = "ProcessingTimeout"

// Gateway abstracts the PSP client so the state machine can be exercised
// against a stub in tests.
type Gateway interface {
	Submit(ctx context.Context, req pspclient.SubmitRequest) (*pspclient.SubmitResult, error)
	Resolve(ctx context.Context, pspReference string) (*pspclient.ResolveResult, error)
}

// CreatePayoutForWallet locks the wallet's full available balance and
// creates a pending payout for it. The repository's partial unique index
// (one in-flight payout per wallet) backstops the in-flight check under
// concurrency.
func (s *Service) CreatePayoutForWallet(ctx context.Context, w *domain.Wallet) (*domain.Payout, error) {
	amount := w.Available()
	if amount < s.params.MinPayoutAmount {
		return nil, ErrBelowMinimumPayout
	}

	inFlight, err := s.repo.HasInFlightPayout(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check in-flight payouts: %w", err)
	}
	if inFlight {
		return nil, ErrPayoutInFlight
	}

	dest, err := s.repo.FindDestinationByWalletID(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	payout := &domain.Payout{
		ID:          uuid.New(),
		WalletID:    w.ID,
		Amount:      amount,
		Currency:    w.Currency,
		Destination: *dest,
		Status:      domain.PayoutStatusPending,
	}
	// The repository locks the funds and inserts the payout atomically; on
	// any failure, duplicate in-flight payout included, neither survives.
	if err := s.repo.CreatePayout(ctx, payout); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, ErrBelowMinimumPayout
		}
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}

	log.Printf("level=info component=payout op=create payout_id=%s wallet_id=%s amount=%d network=%s", payout.ID, w.ID, amount, dest.Network)
	s.publishPayoutStatus(ctx, payout)
	return payout, nil
}

// DispatchPayout submits a pending payout to the PSP and records the
// outcome. Acceptance moves it to processing; rejection (including an
// unreachable gateway) takes the failure path, which releases the lock and
// leaves the payout for the next scheduler pass.
func (s *Service) DispatchPayout(ctx context.Context, p *domain.Payout) error {
	req := pspclient.SubmitRequest{
		Amount:         p.Amount,
		Currency:       p.Currency,
		IdempotencyKey: p.ID.String(),
	}
	req.Destination.Type = p.Destination.Network
	req.Destination.MSISDN = p.Destination.MSISDN

	res, err := s.gateway.Submit(ctx, req)
	if err != nil {
		// Submit only errors on request construction; the transfer was
		// never attempted.
		log.Printf("level=error component=payout op=dispatch payout_id=%s msg=\"submit request construction failed\" err=%v", p.ID, err)
		return s.FailPayout(ctx, p.ID, pspclient.ReasonGatewayUnreachable)
	}

	if !res.Accepted {
		return s.FailPayout(ctx, p.ID, res.Reason)
	}

	ok, err := s.repo.MarkPayoutProcessing(ctx, p.ID, res.PSPReference)
	if err != nil {
		return fmt.Errorf("failed to mark payout processing: %w", err)
	}
	if !ok {
		// The payout left pending while we were talking to the PSP
		// (e.g. a cancellation). The reconciler discards status reports
		// for non-processing payouts, so the submission cannot settle.
		log.Printf("level=warn component=payout op=dispatch payout_id=%s msg=\"payout no longer pending after submit\"", p.ID)
		return nil
	}

	updated, err := s.repo.FindPayoutByID(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to reload payout: %w", err)
	}
	log.Printf("level=info component=payout op=dispatch payout_id=%s psp_reference=%s", p.ID, res.PSPReference)
	s.publishPayoutStatus(ctx, updated)
	return nil
}

// FailPayout moves an in-flight payout to failed, incrementing its retry
// count and releasing the locked funds in one atomic repository step.
// Calling it on a payout that already left the in-flight states is a no-op,
// so duplicate failure reports and a failure racing a settlement are both
// harmless.
func (s *Service) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) error {
	updated, err := s.repo.FailPayout(ctx, payoutID, reason)
	if errors.Is(err, store.ErrPayoutStateConflict) {
		log.Printf("level=info component=payout op=fail payout_id=%s msg=\"payout not in flight; ignoring failure report\"", payoutID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark payout failed: %w", err)
	}

	log.Printf("level=warn component=payout op=fail payout_id=%s reason=%q retry_count=%d", payoutID, reason, updated.RetryCount)
	s.publishPayoutStatus(ctx, updated)
	return nil
}

// SettlePayout finalizes a confirmed payout. The repository records the
// settlement debit (reference = payout id, consuming the locked tranche) and
// flips processing -> success in the same transaction, so a timeout failure
// racing the settlement can never release funds the debit already moved. A
// replayed confirmation finds the payout no longer processing and settles
// nothing.
func (s *Service) SettlePayout(ctx context.Context, p *domain.Payout) error {
	desc := fmt.Sprintf("Mobile money payout to %s %s", p.Destination.Network, p.Destination.MSISDN)
	updated, ok, err := s.repo.SettlePayout(ctx, p.ID, desc)
	if err != nil {
		return fmt.Errorf("failed to settle payout %s: %w", p.ID, err)
	}
	if !ok {
		log.Printf("level=info component=payout op=settle payout_id=%s msg=\"payout not processing; settlement not applied\"", p.ID)
		return nil
	}

	log.Printf("level=info component=payout op=settle payout_id=%s amount=%d", p.ID, p.Amount)
	s.publishPayoutStatus(ctx, updated)
	return nil
}

// CancelPayout cancels an in-flight payout, releasing its locked funds in
// the same atomic repository step. No retry follows a cancellation. A
// cancelled processing payout stops accepting PSP status reports: any late
// report is discarded by the reconciler.
func (s *Service) CancelPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, error) {
	updated, ok, err := s.repo.CancelPayout(ctx, payoutID, reason)
	if errors.Is(err, store.ErrPayoutNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel payout: %w", err)
	}
	if !ok {
		return nil, ErrPayoutNotCancellable
	}

	log.Printf("level=info component=payout op=cancel payout_id=%s reason=%q", payoutID, reason)
	s.publishPayoutStatus(ctx, updated)
	return updated, nil
}
