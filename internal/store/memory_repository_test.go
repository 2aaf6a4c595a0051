package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
)

func TestCreditWallet_CreatesWalletOnFirstCredit(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()

	tx, err := repo.CreditWallet(context.Background(), farmerID, 5000, "tip-1", "tip for lot 42", "UGX")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if tx.Amount != 5000 || tx.Type != domain.TransactionTypeCredit {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.BalanceBefore != 0 || tx.BalanceAfter != 5000 {
		t.Fatalf("expected balance 0 -> 5000, got %d -> %d", tx.BalanceBefore, tx.BalanceAfter)
	}

	w, err := repo.GetWalletByFarmerID(context.Background(), farmerID)
	if err != nil {
		t.Fatalf("expected wallet to exist, got %v", err)
	}
	if w.Balance != 5000 || w.LockedBalance != 0 || w.Currency != "UGX" {
		t.Fatalf("unexpected wallet state: %+v", w)
	}
}

func TestCreditWallet_ReplayReturnsExistingTransaction(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()

	first, err := repo.CreditWallet(context.Background(), farmerID, 5000, "tip-1", "tip", "UGX")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := repo.CreditWallet(context.Background(), farmerID, 5000, "tip-1", "tip", "UGX")
	if err != nil {
		t.Fatalf("expected nil error on replay, got %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected replay to return the original transaction, got %s and %s", first.ID, second.ID)
	}

	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)
	if w.Balance != 5000 {
		t.Fatalf("expected balance to be credited once, got %d", w.Balance)
	}
}

func TestCreditWallet_ConcurrentDuplicateDeliveries(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()

	// Seed the wallet so every goroutine races on the same state.
	if _, err := repo.CreditWallet(context.Background(), farmerID, 1000, "seed", "seed", "UGX"); err != nil {
		t.Fatalf("seed credit failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.CreditWallet(context.Background(), farmerID, 2500, "sale-7", "lot sale", "UGX")
		}()
	}
	wg.Wait()

	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)
	if w.Balance != 3500 {
		t.Fatalf("expected duplicate deliveries to apply once (balance 3500), got %d", w.Balance)
	}
}

func TestCreditWallet_SameReferenceAcrossWallets_AppliesOnce(t *testing.T) {
	// A reference is globally unique, so a misrouted duplicate delivery to a
	// different farmer must not apply a second credit.
	repo := NewMemoryRepository()
	farmerA := uuid.New()
	farmerB := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		farmer := farmerA
		if i%2 == 1 {
			farmer = farmerB
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.CreditWallet(context.Background(), farmer, 5000, "sale-9", "lot sale", "UGX")
		}()
	}
	wg.Wait()

	var total int64
	for _, farmer := range []uuid.UUID{farmerA, farmerB} {
		if w, err := repo.GetWalletByFarmerID(context.Background(), farmer); err == nil {
			total += w.Balance
		}
	}
	if total != 5000 {
		t.Fatalf("expected the reference to apply exactly once across wallets, got total %d", total)
	}
}

func TestDebitWallet_InsufficientFunds(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 1000, "tip-1", "tip", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	_, err := repo.DebitWallet(context.Background(), w.ID, 2000, "payout-1", "payout")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	w, _ = repo.GetWallet(context.Background(), w.ID)
	if w.Balance != 1000 {
		t.Fatalf("failed debit must not change the balance, got %d", w.Balance)
	}
}

func TestDebitWallet_ConsumesLockedTranche(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "lot sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	if err := repo.LockFunds(context.Background(), w.ID, 60000); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := repo.DebitWallet(context.Background(), w.ID, 60000, "payout-1", "payout"); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	w, _ = repo.GetWallet(context.Background(), w.ID)
	if w.Balance != 0 || w.LockedBalance != 0 {
		t.Fatalf("expected balance and lock fully consumed, got balance=%d locked=%d", w.Balance, w.LockedBalance)
	}
}

func TestDebitWallet_ReplayDebitsOnce(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 10000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	first, err := repo.DebitWallet(context.Background(), w.ID, 4000, "payout-1", "payout")
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	second, err := repo.DebitWallet(context.Background(), w.ID, 4000, "payout-1", "payout")
	if err != nil {
		t.Fatalf("replay debit failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("expected replay to return the original debit")
	}

	w, _ = repo.GetWallet(context.Background(), w.ID)
	if w.Balance != 6000 {
		t.Fatalf("expected single debit, got balance %d", w.Balance)
	}
}

func TestLockFunds_CannotExceedAvailable(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 10000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	if err := repo.LockFunds(context.Background(), w.ID, 8000); err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if err := repo.LockFunds(context.Background(), w.ID, 3000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for over-lock, got %v", err)
	}

	w, _ = repo.GetWallet(context.Background(), w.ID)
	if w.LockedBalance != 8000 {
		t.Fatalf("expected locked balance 8000, got %d", w.LockedBalance)
	}
}

func TestLockFunds_ConcurrentLocksNeverOverCommit(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 10000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.LockFunds(context.Background(), w.ID, 3000)
		}()
	}
	wg.Wait()

	w, _ = repo.GetWallet(context.Background(), w.ID)
	if w.LockedBalance > w.Balance {
		t.Fatalf("locked balance %d exceeds balance %d", w.LockedBalance, w.Balance)
	}
	if w.LockedBalance%3000 != 0 {
		t.Fatalf("locked balance %d is not a whole number of grants", w.LockedBalance)
	}
}

func TestReleaseFunds_ClampsAtZero(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 5000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	_ = repo.LockFunds(context.Background(), w.ID, 2000)
	if err := repo.ReleaseFunds(context.Background(), w.ID, 9000); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	w, _ = repo.GetWallet(context.Background(), w.ID)
	if w.LockedBalance != 0 {
		t.Fatalf("expected locked balance clamped to 0, got %d", w.LockedBalance)
	}
	if w.Balance != 5000 {
		t.Fatalf("release must not change the balance, got %d", w.Balance)
	}
}

func newTestPayout(t *testing.T, repo *MemoryRepository, walletID uuid.UUID, amount int64) *domain.Payout {
	t.Helper()
	p := &domain.Payout{
		ID:          uuid.New(),
		WalletID:    walletID,
		Amount:      amount,
		Currency:    "UGX",
		Destination: domain.Destination{Network: "mtn", MSISDN: "+256700000001"},
		Status:      domain.PayoutStatusPending,
	}
	if err := repo.CreatePayout(context.Background(), p); err != nil {
		t.Fatalf("create payout failed: %v", err)
	}
	return p
}

func TestCreatePayout_LocksFundsAtomically(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	newTestPayout(t, repo, w.ID, 60000)

	fresh, _ := repo.GetWallet(context.Background(), w.ID)
	if fresh.LockedBalance != 60000 {
		t.Fatalf("expected create to lock the payout amount, got %d", fresh.LockedBalance)
	}

	// A second payout cannot lock funds the first already holds.
	p := &domain.Payout{ID: uuid.New(), WalletID: w.ID, Amount: 60000, Currency: "UGX", Status: domain.PayoutStatusPending}
	if err := repo.CreatePayout(context.Background(), p); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPayoutTransitions_AreCompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	p := newTestPayout(t, repo, w.ID, 60000)

	ok, err := repo.MarkPayoutProcessing(context.Background(), p.ID, "psp-ref-1")
	if err != nil || !ok {
		t.Fatalf("expected pending -> processing, got ok=%t err=%v", ok, err)
	}
	ok, _ = repo.MarkPayoutProcessing(context.Background(), p.ID, "psp-ref-2")
	if ok {
		t.Fatal("expected second processing transition to be rejected")
	}

	settled, ok, err := repo.SettlePayout(context.Background(), p.ID, "payout")
	if err != nil || !ok {
		t.Fatalf("expected processing -> success, got ok=%t err=%v", ok, err)
	}
	if settled.Status != domain.PayoutStatusSuccess {
		t.Fatalf("expected settled payout, got %s", settled.Status)
	}
	_, ok, _ = repo.SettlePayout(context.Background(), p.ID, "payout")
	if ok {
		t.Fatal("expected replayed settlement to be rejected")
	}

	if _, err := repo.FailPayout(context.Background(), p.ID, "late failure"); !errors.Is(err, ErrPayoutStateConflict) {
		t.Fatalf("expected ErrPayoutStateConflict for terminal payout, got %v", err)
	}
}

func TestSettlePayout_DebitsWalletInSameStep(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	p := newTestPayout(t, repo, w.ID, 60000)
	_, _ = repo.MarkPayoutProcessing(context.Background(), p.ID, "psp-ref-1")

	if _, ok, err := repo.SettlePayout(context.Background(), p.ID, "payout"); err != nil || !ok {
		t.Fatalf("settle failed: ok=%t err=%v", ok, err)
	}

	fresh, _ := repo.GetWallet(context.Background(), w.ID)
	if fresh.Balance != 0 || fresh.LockedBalance != 0 {
		t.Fatalf("expected settlement to consume balance and lock together, got %+v", fresh)
	}
	debits, _ := repo.ListTransactions(context.Background(), w.ID, domain.TransactionListOptions{Type: domain.TransactionTypeDebit})
	if len(debits) != 1 || debits[0].Reference != p.ID.String() {
		t.Fatalf("expected one settlement debit keyed by payout id, got %+v", debits)
	}
}

func TestFailPayout_ReleasesFundsInSameStep(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	p := newTestPayout(t, repo, w.ID, 60000)
	_, _ = repo.MarkPayoutProcessing(context.Background(), p.ID, "psp-ref-1")

	failed, err := repo.FailPayout(context.Background(), p.ID, "declined")
	if err != nil {
		t.Fatalf("fail transition failed: %v", err)
	}
	if failed.Status != domain.PayoutStatusFailed || failed.RetryCount != 1 {
		t.Fatalf("expected failed payout with retry count 1, got %+v", failed)
	}

	fresh, _ := repo.GetWallet(context.Background(), w.ID)
	if fresh.Balance != 60000 || fresh.LockedBalance != 0 {
		t.Fatalf("expected funds released with the flip, got %+v", fresh)
	}
}

func TestSettleAndFail_RaceResolvesExactlyOnce(t *testing.T) {
	// A settlement and a timeout failure racing on one processing payout
	// must resolve to exactly one outcome, with the wallet matching it:
	// settled means the money left, failed means it is all available again.
	// Either way no tranche may stay locked.
	for i := 0; i < 50; i++ {
		repo := NewMemoryRepository()
		farmerID := uuid.New()
		_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
		w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

		p := newTestPayout(t, repo, w.ID, 60000)
		_, _ = repo.MarkPayoutProcessing(context.Background(), p.ID, "psp-ref-1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = repo.SettlePayout(context.Background(), p.ID, "payout")
		}()
		go func() {
			defer wg.Done()
			_, _ = repo.FailPayout(context.Background(), p.ID, "ProcessingTimeout")
		}()
		wg.Wait()

		final, _ := repo.FindPayoutByID(context.Background(), p.ID)
		fresh, _ := repo.GetWallet(context.Background(), w.ID)
		switch final.Status {
		case domain.PayoutStatusSuccess:
			if fresh.Balance != 0 || fresh.LockedBalance != 0 {
				t.Fatalf("settled payout but wallet %+v", fresh)
			}
		case domain.PayoutStatusFailed:
			if fresh.Balance != 60000 || fresh.LockedBalance != 0 {
				t.Fatalf("failed payout but wallet %+v", fresh)
			}
		default:
			t.Fatalf("unexpected final status %s", final.Status)
		}
	}
}

func TestRequeuePayout_RelocksFundsAndClearsPSPReference(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	p := newTestPayout(t, repo, w.ID, 60000)
	_, _ = repo.MarkPayoutProcessing(context.Background(), p.ID, "psp-ref-1")
	if _, err := repo.FailPayout(context.Background(), p.ID, "declined"); err != nil {
		t.Fatalf("fail transition failed: %v", err)
	}

	ok, err := repo.RequeuePayout(context.Background(), p.ID)
	if err != nil || !ok {
		t.Fatalf("expected failed -> pending, got ok=%t err=%v", ok, err)
	}

	fresh, _ := repo.FindPayoutByID(context.Background(), p.ID)
	if fresh.Status != domain.PayoutStatusPending || fresh.PSPReference != nil || fresh.ExecutedAt != nil {
		t.Fatalf("expected requeue to reset submission fields, got %+v", fresh)
	}
	if fresh.RetryCount != 1 {
		t.Fatalf("expected retry count preserved at 1, got %d", fresh.RetryCount)
	}

	wallet, _ := repo.GetWallet(context.Background(), w.ID)
	if wallet.LockedBalance != 60000 {
		t.Fatalf("expected requeue to re-lock the payout amount, got %d", wallet.LockedBalance)
	}

	// The old reference must no longer resolve to the payout.
	if _, err := repo.FindPayoutByPSPReference(context.Background(), "psp-ref-1"); !errors.Is(err, ErrPayoutNotFound) {
		t.Fatalf("expected stale reference lookup to miss, got %v", err)
	}
}

func TestRequeuePayout_InsufficientFundsLeavesPayoutParked(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	p := newTestPayout(t, repo, w.ID, 60000)
	if _, err := repo.FailPayout(context.Background(), p.ID, "declined"); err != nil {
		t.Fatalf("fail transition failed: %v", err)
	}

	// Another lock claims the balance before the requeue.
	_ = repo.LockFunds(context.Background(), w.ID, 60000)

	ok, err := repo.RequeuePayout(context.Background(), p.ID)
	if ok || !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected requeue to report insufficient funds, got ok=%t err=%v", ok, err)
	}

	fresh, _ := repo.FindPayoutByID(context.Background(), p.ID)
	if fresh.Status != domain.PayoutStatusFailed {
		t.Fatalf("expected payout to stay parked in failed, got %s", fresh.Status)
	}
}

func TestHasInFlightPayout(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 60000, "sale-1", "sale", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)

	inFlight, _ := repo.HasInFlightPayout(context.Background(), w.ID)
	if inFlight {
		t.Fatal("expected no in-flight payout on a fresh wallet")
	}

	p := newTestPayout(t, repo, w.ID, 60000)

	inFlight, _ = repo.HasInFlightPayout(context.Background(), w.ID)
	if !inFlight {
		t.Fatal("expected pending payout to count as in flight")
	}

	_, _ = repo.MarkPayoutProcessing(context.Background(), p.ID, "psp-ref-1")
	_, _ = repo.FailPayout(context.Background(), p.ID, "declined")

	inFlight, _ = repo.HasInFlightPayout(context.Background(), w.ID)
	if inFlight {
		t.Fatal("expected failed payout to release the in-flight slot")
	}
}

func TestListEligibleWallets_UsesAvailableBalance(t *testing.T) {
	repo := NewMemoryRepository()

	richFarmer := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), richFarmer, 80000, "sale-1", "sale", "UGX")

	lockedFarmer := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), lockedFarmer, 80000, "sale-2", "sale", "UGX")
	lockedWallet, _ := repo.GetWalletByFarmerID(context.Background(), lockedFarmer)
	_ = repo.LockFunds(context.Background(), lockedWallet.ID, 60000)

	poorFarmer := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), poorFarmer, 10000, "sale-3", "sale", "UGX")

	wallets, err := repo.ListEligibleWallets(context.Background(), 50000)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(wallets) != 1 {
		t.Fatalf("expected exactly one eligible wallet, got %d", len(wallets))
	}
	if wallets[0].FarmerID != richFarmer {
		t.Fatalf("expected the unlocked wallet to be eligible, got farmer %s", wallets[0].FarmerID)
	}
}

func TestListTransactions_FilterAndPagination(t *testing.T) {
	repo := NewMemoryRepository()
	farmerID := uuid.New()
	_, _ = repo.CreditWallet(context.Background(), farmerID, 10000, "c-1", "sale", "UGX")
	_, _ = repo.CreditWallet(context.Background(), farmerID, 5000, "c-2", "tip", "UGX")
	w, _ := repo.GetWalletByFarmerID(context.Background(), farmerID)
	_, _ = repo.DebitWallet(context.Background(), w.ID, 3000, "d-1", "payout")

	credits, err := repo.ListTransactions(context.Background(), w.ID, domain.TransactionListOptions{Type: domain.TransactionTypeCredit})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(credits) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(credits))
	}

	page, err := repo.ListTransactions(context.Background(), w.ID, domain.TransactionListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected a single-item page, got %d", len(page))
	}
}
