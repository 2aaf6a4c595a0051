package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/store"
)

func newTestJobs(svc *Service, repo store.Repository) *Jobs {
	return NewJobs(svc, repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunDisbursement_CreatesAndDispatchesPayout(t *testing.T) {
	repo := store.NewMemoryRepository()
	gw := &gatewayStub{accept: true}
	svc, _ := newTestService(repo, gw)
	ctx := context.Background()

	w := seedFundedWallet(t, repo, 60000)

	newTestJobs(svc, repo).RunDisbursement()

	payouts, _ := repo.ListPayouts(ctx, w.ID, domain.PayoutListOptions{})
	if len(payouts) != 1 {
		t.Fatalf("expected one payout, got %d", len(payouts))
	}
	if payouts[0].Status != domain.PayoutStatusProcessing {
		t.Fatalf("expected dispatched payout, got %s", payouts[0].Status)
	}
	if payouts[0].Amount != 60000 {
		t.Fatalf("expected the full available balance, got %d", payouts[0].Amount)
	}

	fresh, _ := repo.GetWallet(ctx, w.ID)
	if fresh.LockedBalance != 60000 {
		t.Fatalf("expected amount locked while processing, got %d", fresh.LockedBalance)
	}
}

func TestRunDisbursement_SkipsWalletBelowThreshold(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(repo, &gatewayStub{accept: true})
	ctx := context.Background()

	w := seedFundedWallet(t, repo, 40000)

	newTestJobs(svc, repo).RunDisbursement()

	payouts, _ := repo.ListPayouts(ctx, w.ID, domain.PayoutListOptions{})
	if len(payouts) != 0 {
		t.Fatalf("expected no payout below threshold, got %d", len(payouts))
	}
}

func TestRunDisbursement_SkipsWalletWithoutDestination(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(repo, &gatewayStub{accept: true})
	ctx := context.Background()

	farmerID := uuid.New()
	_, _ = repo.CreditWallet(ctx, farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(ctx, farmerID)

	newTestJobs(svc, repo).RunDisbursement()

	payouts, _ := repo.ListPayouts(ctx, w.ID, domain.PayoutListOptions{})
	if len(payouts) != 0 {
		t.Fatalf("expected no payout without a destination, got %d", len(payouts))
	}
	fresh, _ := repo.GetWallet(ctx, w.ID)
	if fresh.LockedBalance != 0 {
		t.Fatalf("expected no lock left behind, got %d", fresh.LockedBalance)
	}
}

func TestRunDisbursement_SkipsWalletWithInFlightPayout(t *testing.T) {
	repo := store.NewMemoryRepository()
	gw := &gatewayStub{accept: true}
	svc, _ := newTestService(repo, gw)
	ctx := context.Background()

	w := seedFundedWallet(t, repo, 60000)
	jobs := newTestJobs(svc, repo)
	jobs.RunDisbursement()

	// More funds arrive while the first payout is still processing.
	_, _ = repo.CreditWallet(ctx, w.FarmerID, 70000, "sale-2", "sale", "UGX")
	jobs.RunDisbursement()

	payouts, _ := repo.ListPayouts(ctx, w.ID, domain.PayoutListOptions{})
	if len(payouts) != 1 {
		t.Fatalf("expected a single in-flight payout, got %d", len(payouts))
	}
}

func TestRunDisbursement_RequeuesFailedPayout(t *testing.T) {
	repo := store.NewMemoryRepository()
	gw := &gatewayStub{accept: false, reason: "InsufficientFloat"}
	svc, _ := newTestService(repo, gw)
	ctx := context.Background()

	w := seedFundedWallet(t, repo, 60000)
	jobs := newTestJobs(svc, repo)

	// First pass: payout created, rejected, parked in failed.
	jobs.RunDisbursement()
	payouts, _ := repo.ListPayouts(ctx, w.ID, domain.PayoutListOptions{})
	if len(payouts) != 1 || payouts[0].Status != domain.PayoutStatusFailed || payouts[0].RetryCount != 1 {
		t.Fatalf("expected one failed payout with retry count 1, got %+v", payouts)
	}

	// Second pass with a healthy gateway: the same payout is requeued and
	// dispatched, not replaced by a new one.
	gw.mu.Lock()
	gw.accept = true
	gw.mu.Unlock()
	jobs.RunDisbursement()

	payouts, _ = repo.ListPayouts(ctx, w.ID, domain.PayoutListOptions{})
	if len(payouts) != 1 {
		t.Fatalf("expected retry to reuse the payout, got %d payouts", len(payouts))
	}
	if payouts[0].Status != domain.PayoutStatusProcessing || payouts[0].RetryCount != 1 {
		t.Fatalf("expected requeued payout processing with retry count 1, got %+v", payouts[0])
	}
}

func TestRunDisbursement_ExhaustsRetryBudget(t *testing.T) {
	repo := store.NewMemoryRepository()
	gw := &gatewayStub{accept: false, reason: "InsufficientFloat"}
	svc, _ := newTestService(repo, gw)
	ctx := context.Background()

	w := seedFundedWallet(t, repo, 60000)
	jobs := newTestJobs(svc, repo)

	// Pass 1 creates and fails (retry 1); passes 2 and 3 requeue and fail
	// (retries 2 and 3).
	jobs.RunDisbursement()
	jobs.RunDisbursement()
	jobs.RunDisbursement()

	payouts, _ := repo.ListPayouts(ctx, w.ID, domain.PayoutListOptions{Status: domain.PayoutStatusFailed})
	if len(payouts) != 1 || payouts[0].RetryCount != 3 {
		t.Fatalf("expected payout with exhausted retry budget, got %+v", payouts)
	}

	// The spent payout must not be requeued again.
	gw.mu.Lock()
	gw.accept = true
	gw.mu.Unlock()
	jobs.RunDisbursement()

	spent, _ := repo.FindPayoutByID(ctx, payouts[0].ID)
	if spent.Status != domain.PayoutStatusFailed || spent.RetryCount != 3 {
		t.Fatalf("expected terminally failed payout to stay parked, got %+v", spent)
	}
}
