/**
 * @description
 * In-memory implementation of the `Repository` interface. It backs the
 * deterministic test suite and local development without a database.
 *
 * Per-wallet serialization is implemented with a lock map keyed by wallet ID:
 * every ledger mutation holds that wallet's mutex for the duration of the
 * balance change and the transaction append, so concurrent credits and the
 * scheduler's lock attempts can never race into a negative balance or an
 * over-lock. Operations on different wallets proceed in parallel.
 *
 * Payout transitions that move money (create, settle, fail, cancel, requeue)
 * hold the payout mutex for the whole of the status flip and the wallet
 * mutation, mirroring the single database transaction the Postgres
 * implementation uses. Two reconcilers racing a settlement against a timeout
 * failure therefore serialize here and exactly one wins.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
)

type memWallet struct {
	mu     sync.Mutex
	wallet domain.Wallet
	txs    []domain.Transaction
}

// MemoryRepository is a thread-safe, map-backed Repository.
type MemoryRepository struct {
	mu           sync.RWMutex
	wallets      map[uuid.UUID]*memWallet
	walletByOwnr map[uuid.UUID]uuid.UUID
	txByRef      map[string]*domain.Transaction
	destinations map[uuid.UUID]domain.Destination

	pmu         sync.Mutex
	payouts     map[uuid.UUID]*domain.Payout
	payoutByRef map[string]uuid.UUID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		wallets:      make(map[uuid.UUID]*memWallet),
		walletByOwnr: make(map[uuid.UUID]uuid.UUID),
		txByRef:      make(map[string]*domain.Transaction),
		destinations: make(map[uuid.UUID]domain.Destination),
		payouts:      make(map[uuid.UUID]*domain.Payout),
		payoutByRef:  make(map[string]uuid.UUID),
	}
}

func refKey(reference, txType string) string {
	return reference + "|" + txType
}

func (r *MemoryRepository) getState(walletID uuid.UUID) (*memWallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return state, nil
}

// GetWallet retrieves a snapshot of a wallet by its ID.
func (r *MemoryRepository) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	state, err := r.getState(walletID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	w := state.wallet
	return &w, nil
}

// GetWalletByFarmerID retrieves a snapshot of a wallet by its owning farmer.
func (r *MemoryRepository) GetWalletByFarmerID(ctx context.Context, farmerID uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	walletID, ok := r.walletByOwnr[farmerID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrWalletNotFound
	}
	return r.GetWallet(ctx, walletID)
}

// CreditWallet atomically increases a wallet balance and appends the credit
// transaction, creating the wallet on the farmer's first credit. Replaying a
// reference returns the existing transaction unchanged.
func (r *MemoryRepository) CreditWallet(ctx context.Context, farmerID uuid.UUID, amount int64, reference, description, currency string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	r.mu.Lock()
	walletID, ok := r.walletByOwnr[farmerID]
	if !ok {
		walletID = uuid.New()
		now := time.Now().UTC()
		r.wallets[walletID] = &memWallet{wallet: domain.Wallet{
			ID: walletID, FarmerID: farmerID, Currency: currency, CreatedAt: now, UpdatedAt: now,
		}}
		r.walletByOwnr[farmerID] = walletID
	}
	state := r.wallets[walletID]
	r.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	// The reference check and registration share one critical section, so
	// two concurrent deliveries of the same reference can never both apply,
	// not even when they target different wallets.
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, dup := r.txByRef[refKey(reference, domain.TransactionTypeCredit)]; dup {
		t := *existing
		return &t, nil
	}

	record := domain.Transaction{
		ID:            uuid.New(),
		WalletID:      walletID,
		Type:          domain.TransactionTypeCredit,
		Amount:        amount,
		Reference:     reference,
		BalanceBefore: state.wallet.Balance,
		BalanceAfter:  state.wallet.Balance + amount,
		Status:        "completed",
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	state.wallet.Balance += amount
	state.wallet.UpdatedAt = record.CreatedAt
	state.txs = append(state.txs, record)
	r.txByRef[refKey(reference, domain.TransactionTypeCredit)] = &state.txs[len(state.txs)-1]

	t := record
	return &t, nil
}

// DebitWallet settles a successful payout: it decreases the balance, consumes
// the matching locked tranche, and appends the debit transaction.
func (r *MemoryRepository) DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, reference, description string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	state, err := r.getState(walletID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, dup := r.txByRef[refKey(reference, domain.TransactionTypeDebit)]; dup {
		t := *existing
		return &t, nil
	}

	if state.wallet.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	record := domain.Transaction{
		ID:            uuid.New(),
		WalletID:      walletID,
		Type:          domain.TransactionTypeDebit,
		Amount:        amount,
		Reference:     reference,
		BalanceBefore: state.wallet.Balance,
		BalanceAfter:  state.wallet.Balance - amount,
		Status:        "completed",
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	state.wallet.Balance -= amount
	if state.wallet.LockedBalance > amount {
		state.wallet.LockedBalance -= amount
	} else {
		state.wallet.LockedBalance = 0
	}
	state.wallet.UpdatedAt = record.CreatedAt
	state.txs = append(state.txs, record)
	r.txByRef[refKey(reference, domain.TransactionTypeDebit)] = &state.txs[len(state.txs)-1]

	t := record
	return &t, nil
}

// LockFunds reserves part of the available balance for an in-flight payout.
func (r *MemoryRepository) LockFunds(ctx context.Context, walletID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("lock amount must be positive, got %d", amount)
	}
	state, err := r.getState(walletID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if amount > state.wallet.Balance-state.wallet.LockedBalance {
		return ErrInsufficientFunds
	}
	state.wallet.LockedBalance += amount
	state.wallet.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseFunds returns a reserved tranche to the available balance.
func (r *MemoryRepository) ReleaseFunds(ctx context.Context, walletID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("release amount must be positive, got %d", amount)
	}
	state, err := r.getState(walletID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.wallet.LockedBalance > amount {
		state.wallet.LockedBalance -= amount
	} else {
		state.wallet.LockedBalance = 0
	}
	state.wallet.UpdatedAt = time.Now().UTC()
	return nil
}

// ListTransactions returns a page of ledger history, newest first.
func (r *MemoryRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	state, err := r.getState(walletID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	var items []domain.Transaction
	for _, t := range state.txs {
		if opts.Type == "" || t.Type == opts.Type {
			items = append(items, t)
		}
	}
	state.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return paginate(items, opts.Limit, opts.Offset), nil
}

// UpsertDestination stores or replaces the mobile-money destination for a wallet.
func (r *MemoryRepository) UpsertDestination(ctx context.Context, walletID uuid.UUID, dest domain.Destination) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[walletID] = dest
	return nil
}

// FindDestinationByWalletID retrieves a wallet's mobile-money destination.
func (r *MemoryRepository) FindDestinationByWalletID(ctx context.Context, walletID uuid.UUID) (*domain.Destination, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dest, ok := r.destinations[walletID]
	if !ok {
		return nil, ErrDestinationNotFound
	}
	d := dest
	return &d, nil
}

// CreatePayout locks the payout amount in the wallet and inserts the
// pending payout record in one step, so a crash can never leave a lock
// without a payout that owns it.
func (r *MemoryRepository) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	if payout.Amount <= 0 {
		return fmt.Errorf("payout amount must be positive, got %d", payout.Amount)
	}

	r.pmu.Lock()
	defer r.pmu.Unlock()

	state, err := r.getState(payout.WalletID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if payout.Amount > state.wallet.Balance-state.wallet.LockedBalance {
		return ErrInsufficientFunds
	}

	now := time.Now().UTC()
	state.wallet.LockedBalance += payout.Amount
	state.wallet.UpdatedAt = now
	payout.InitiatedAt = now
	payout.UpdatedAt = now
	p := *payout
	r.payouts[p.ID] = &p
	return nil
}

func (r *MemoryRepository) payoutCopy(p *domain.Payout) *domain.Payout {
	cp := *p
	return &cp
}

// FindPayoutByID retrieves a payout by its ID.
func (r *MemoryRepository) FindPayoutByID(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	return r.payoutCopy(p), nil
}

// FindPayoutByPSPReference retrieves a payout by the reference assigned by the PSP.
func (r *MemoryRepository) FindPayoutByPSPReference(ctx context.Context, pspReference string) (*domain.Payout, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	payoutID, ok := r.payoutByRef[pspReference]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	return r.payoutCopy(p), nil
}

// MarkPayoutProcessing transitions pending -> processing.
func (r *MemoryRepository) MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID, pspReference string) (bool, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok || p.Status != domain.PayoutStatusPending {
		return false, nil
	}
	now := time.Now().UTC()
	p.Status = domain.PayoutStatusProcessing
	p.PSPReference = &pspReference
	p.ExecutedAt = &now
	p.UpdatedAt = now
	r.payoutByRef[pspReference] = payoutID
	return true, nil
}

// SettlePayout transitions processing -> success and records the settlement
// debit, consuming the locked tranche. The status check, the debit and the
// flip happen under the payout mutex, so a racing failure transition either
// runs before (and wins) or sees a terminal payout.
func (r *MemoryRepository) SettlePayout(ctx context.Context, payoutID uuid.UUID, description string) (*domain.Payout, bool, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, false, ErrPayoutNotFound
	}
	if p.Status != domain.PayoutStatusProcessing {
		return r.payoutCopy(p), false, nil
	}

	state, err := r.getState(p.WalletID)
	if err != nil {
		return nil, false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	key := refKey(p.ID.String(), domain.TransactionTypeDebit)
	r.mu.Lock()
	_, dup := r.txByRef[key]
	r.mu.Unlock()
	if !dup {
		if state.wallet.Balance < p.Amount {
			return nil, false, ErrInsufficientFunds
		}
		record := domain.Transaction{
			ID:            uuid.New(),
			WalletID:      p.WalletID,
			Type:          domain.TransactionTypeDebit,
			Amount:        p.Amount,
			Reference:     p.ID.String(),
			BalanceBefore: state.wallet.Balance,
			BalanceAfter:  state.wallet.Balance - p.Amount,
			Status:        "completed",
			Description:   description,
			CreatedAt:     time.Now().UTC(),
		}
		state.wallet.Balance -= p.Amount
		if state.wallet.LockedBalance > p.Amount {
			state.wallet.LockedBalance -= p.Amount
		} else {
			state.wallet.LockedBalance = 0
		}
		state.wallet.UpdatedAt = record.CreatedAt
		state.txs = append(state.txs, record)
		r.mu.Lock()
		r.txByRef[key] = &state.txs[len(state.txs)-1]
		r.mu.Unlock()
	}

	now := time.Now().UTC()
	p.Status = domain.PayoutStatusSuccess
	p.CompletedAt = &now
	p.UpdatedAt = now
	return r.payoutCopy(p), true, nil
}

// FailPayout transitions an in-flight payout to failed, increments its retry
// count and releases the locked tranche in the same step.
func (r *MemoryRepository) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutStateConflict
	}
	if p.Status != domain.PayoutStatusPending && p.Status != domain.PayoutStatusProcessing {
		return nil, ErrPayoutStateConflict
	}

	state, err := r.getState(p.WalletID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now().UTC()
	if state.wallet.LockedBalance > p.Amount {
		state.wallet.LockedBalance -= p.Amount
	} else {
		state.wallet.LockedBalance = 0
	}
	state.wallet.UpdatedAt = now

	p.Status = domain.PayoutStatusFailed
	p.FailureReason = &reason
	p.RetryCount++
	p.UpdatedAt = now
	return r.payoutCopy(p), nil
}

// CancelPayout transitions an in-flight payout to cancelled and releases the
// locked tranche in the same step.
func (r *MemoryRepository) CancelPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, bool, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, false, ErrPayoutNotFound
	}
	if p.Status != domain.PayoutStatusPending && p.Status != domain.PayoutStatusProcessing {
		return r.payoutCopy(p), false, nil
	}

	state, err := r.getState(p.WalletID)
	if err != nil {
		return nil, false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now().UTC()
	if state.wallet.LockedBalance > p.Amount {
		state.wallet.LockedBalance -= p.Amount
	} else {
		state.wallet.LockedBalance = 0
	}
	state.wallet.UpdatedAt = now

	p.Status = domain.PayoutStatusCancelled
	p.FailureReason = &reason
	p.CompletedAt = &now
	p.UpdatedAt = now
	return r.payoutCopy(p), true, nil
}

// RequeuePayout transitions failed -> pending for the next scheduler pass,
// re-locking the payout amount. Returns ErrInsufficientFunds when the wallet
// can no longer cover the payout; the payout then stays parked in failed.
func (r *MemoryRepository) RequeuePayout(ctx context.Context, payoutID uuid.UUID) (bool, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok || p.Status != domain.PayoutStatusFailed {
		return false, nil
	}

	state, err := r.getState(p.WalletID)
	if err != nil {
		return false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if p.Amount > state.wallet.Balance-state.wallet.LockedBalance {
		return false, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	state.wallet.LockedBalance += p.Amount
	state.wallet.UpdatedAt = now

	if p.PSPReference != nil {
		delete(r.payoutByRef, *p.PSPReference)
	}
	p.Status = domain.PayoutStatusPending
	p.PSPReference = nil
	p.ExecutedAt = nil
	p.UpdatedAt = now
	return true, nil
}

// HasInFlightPayout reports whether a wallet already has a pending or
// processing payout outstanding.
func (r *MemoryRepository) HasInFlightPayout(ctx context.Context, walletID uuid.UUID) (bool, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	for _, p := range r.payouts {
		if p.WalletID == walletID && p.InFlight() {
			return true, nil
		}
	}
	return false, nil
}

// ListEligibleWallets returns wallets whose available balance meets the
// disbursement threshold.
func (r *MemoryRepository) ListEligibleWallets(ctx context.Context, threshold int64) ([]domain.Wallet, error) {
	r.mu.RLock()
	states := make([]*memWallet, 0, len(r.wallets))
	for _, state := range r.wallets {
		states = append(states, state)
	}
	r.mu.RUnlock()

	var wallets []domain.Wallet
	for _, state := range states {
		state.mu.Lock()
		if state.wallet.Available() >= threshold {
			wallets = append(wallets, state.wallet)
		}
		state.mu.Unlock()
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].UpdatedAt.Before(wallets[j].UpdatedAt) })
	return wallets, nil
}

// ListRetryablePayouts returns failed payouts that still have retry budget.
func (r *MemoryRepository) ListRetryablePayouts(ctx context.Context, maxRetries int) ([]domain.Payout, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	var payouts []domain.Payout
	for _, p := range r.payouts {
		if p.Status == domain.PayoutStatusFailed && p.RetryCount < maxRetries {
			payouts = append(payouts, *p)
		}
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].UpdatedAt.Before(payouts[j].UpdatedAt) })
	return payouts, nil
}

// ListStaleProcessingPayouts returns processing payouts whose execution is
// older than the given cutoff.
func (r *MemoryRepository) ListStaleProcessingPayouts(ctx context.Context, olderThan time.Time) ([]domain.Payout, error) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	var payouts []domain.Payout
	for _, p := range r.payouts {
		if p.Status == domain.PayoutStatusProcessing && p.ExecutedAt != nil && p.ExecutedAt.Before(olderThan) {
			payouts = append(payouts, *p)
		}
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].ExecutedAt.Before(*payouts[j].ExecutedAt) })
	return payouts, nil
}

// ListPayouts returns a page of payout history for a wallet, newest first.
func (r *MemoryRepository) ListPayouts(ctx context.Context, walletID uuid.UUID, opts domain.PayoutListOptions) ([]domain.Payout, error) {
	r.pmu.Lock()
	var payouts []domain.Payout
	for _, p := range r.payouts {
		if p.WalletID == walletID && (opts.Status == "" || p.Status == opts.Status) {
			payouts = append(payouts, *p)
		}
	}
	r.pmu.Unlock()

	sort.Slice(payouts, func(i, j int) bool { return payouts[i].InitiatedAt.After(payouts[j].InitiatedAt) })
	return paginate(payouts, opts.Limit, opts.Offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	limit = normalizeLimit(limit)
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}
