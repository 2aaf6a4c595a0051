/**
 * @description
 * Scheduled job implementations for the payout pipeline: the disbursement
 * pass that turns eligible balances into payouts, and the reconciliation
 * sweep that resolves stale processing payouts.
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/store"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service *Service
	repo    store.Repository
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, repo store.Repository, logger *slog.Logger) *Jobs {
	return &Jobs{service: service, repo: repo, logger: logger}
}

// RunDisbursement is the scheduled disbursement pass. It first requeues
// failed payouts that still have retry budget, then scans for wallets
// whose available balance has crossed the threshold and opens a payout
// for each. Retries only ever happen here, never inline on failure.
func (j *Jobs) RunDisbursement() {
	j.logger.Info("starting disbursement job")
	ctx := context.Background()

	requeued, retryOwned := j.requeueFailedPayouts(ctx)

	wallets, err := j.repo.ListEligibleWallets(ctx, j.service.params.DisbursementThreshold)
	if err != nil {
		j.logger.Error("failed to list eligible wallets", "error", err)
		return
	}

	created := 0
	for i := range wallets {
		w := &wallets[i]
		if retryOwned[w.ID] {
			// The wallet's balance belongs to its failed payout until the
			// retry budget is spent; do not mint a fresh payout over it.
			continue
		}
		payout, err := j.service.CreatePayoutForWallet(ctx, w)
		if err != nil {
			switch {
			case errors.Is(err, ErrPayoutInFlight):
				// One payout per wallet at a time; this wallet's turn
				// comes once the outstanding one resolves.
			case errors.Is(err, ErrBelowMinimumPayout):
				// Locked funds from a requeued payout can drop the
				// available balance back under the minimum.
			case errors.Is(err, store.ErrDestinationNotFound):
				j.logger.Warn("wallet eligible but has no payout destination", "wallet_id", w.ID)
			default:
				j.logger.Error("failed to create payout", "wallet_id", w.ID, "error", err)
			}
			continue
		}
		created++

		if err := j.service.DispatchPayout(ctx, payout); err != nil {
			j.logger.Error("failed to dispatch payout", "payout_id", payout.ID, "error", err)
		}
	}

	j.logger.Info("disbursement job finished", "requeued", requeued, "created", created)
}

// requeueFailedPayouts re-locks funds for retryable failed payouts and
// moves them back to pending before dispatching them again. A wallet that
// can no longer cover the payout amount keeps the payout parked in failed
// until funds return. The returned set holds every wallet that still owns
// a retryable payout, so the eligibility scan can pass over it.
func (j *Jobs) requeueFailedPayouts(ctx context.Context) (int, map[uuid.UUID]bool) {
	retryOwned := make(map[uuid.UUID]bool)
	retryable, err := j.repo.ListRetryablePayouts(ctx, j.service.params.MaxRetries)
	if err != nil {
		j.logger.Error("failed to list retryable payouts", "error", err)
		return 0, retryOwned
	}

	requeued := 0
	for i := range retryable {
		p := &retryable[i]
		retryOwned[p.WalletID] = true

		// The repository re-locks the funds and flips failed -> pending in
		// one step; an insufficient balance or a lost race against a cancel
		// leaves both untouched.
		ok, err := j.repo.RequeuePayout(ctx, p.ID)
		if errors.Is(err, store.ErrInsufficientFunds) {
			j.logger.Warn("insufficient funds to requeue payout", "payout_id", p.ID, "wallet_id", p.WalletID, "amount", p.Amount)
			continue
		}
		if err != nil {
			j.logger.Error("failed to requeue payout", "payout_id", p.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		requeued++

		fresh, err := j.repo.FindPayoutByID(ctx, p.ID)
		if err != nil {
			j.logger.Error("failed to reload requeued payout", "payout_id", p.ID, "error", err)
			continue
		}
		if err := j.service.DispatchPayout(ctx, fresh); err != nil {
			j.logger.Error("failed to dispatch requeued payout", "payout_id", p.ID, "error", err)
		}
	}
	return requeued, retryOwned
}

// SweepStalePayouts resolves processing payouts whose submission has
// outlived the processing timeout without a status report.
func (j *Jobs) SweepStalePayouts() {
	j.logger.Info("starting stale payout sweep")
	ctx := context.Background()

	swept, err := j.service.SweepStaleProcessingPayouts(ctx)
	if err != nil {
		j.logger.Error("stale payout sweep failed", "error", err)
		return
	}
	j.logger.Info("stale payout sweep finished", "resolved", swept)
}

// DispatchPendingPayouts pushes any pending payouts that never reached the
// PSP, e.g. after a crash between creation and dispatch.
func (j *Jobs) DispatchPendingPayouts() {
	ctx := context.Background()

	wallets, err := j.repo.ListEligibleWallets(ctx, 0)
	if err != nil {
		j.logger.Error("failed to list wallets for pending dispatch", "error", err)
		return
	}

	for i := range wallets {
		payouts, err := j.repo.ListPayouts(ctx, wallets[i].ID, domain.PayoutListOptions{Status: domain.PayoutStatusPending})
		if err != nil {
			j.logger.Error("failed to list pending payouts", "wallet_id", wallets[i].ID, "error", err)
			continue
		}
		for k := range payouts {
			if err := j.service.DispatchPayout(ctx, &payouts[k]); err != nil {
				j.logger.Error("failed to dispatch pending payout", "payout_id", payouts[k].ID, "error", err)
			}
		}
	}
}
