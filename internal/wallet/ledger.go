// Package wallet implements the per-(user,asset) balance primitives: a
// small, centralized mutation surface guarding every balance change so no
// call path can produce a negative component.
//
// Every primitive operates on an already row-locked wallet (the caller,
// internal/settlement or internal/matching's pre-lock step, acquires the
// lock via store.Writer.LockWallet first) and persists through the same
// store.Writer transaction.
package wallet

import (
	"context"
	"fmt"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
)

// Ledger mutates wallet rows inside an active store.Writer transaction.
type Ledger struct {
	tx store.Writer
}

func New(tx store.Writer) *Ledger { return &Ledger{tx: tx} }

func requirePositive(x money.Decimal) error {
	if !x.IsPositive() {
		return fmt.Errorf("wallet: %w: amount must be positive", store.ErrInvariant)
	}
	return nil
}

func (l *Ledger) save(ctx context.Context, w *store.Wallet) error {
	if w.Available.IsNegative() || w.Locked.IsNegative() || w.Reserved.IsNegative() {
		return fmt.Errorf("wallet: %w: negative balance component for %s/%s", store.ErrInvariant, w.UserID, w.Asset)
	}
	w.UpdateTime = money.NowMillis()
	return l.tx.UpdateWallet(ctx, w)
}

// Deposit credits available and total_deposited. x must be positive.
func (l *Ledger) Deposit(ctx context.Context, w *store.Wallet, x money.Decimal) error {
	if err := requirePositive(x); err != nil {
		return err
	}
	w.Available = w.Available.Add(x)
	w.TotalDeposited = w.TotalDeposited.Add(x)
	return l.save(ctx, w)
}

// Withdraw debits available and credits total_withdrawn, failing if
// available < x.
func (l *Ledger) Withdraw(ctx context.Context, w *store.Wallet, x money.Decimal) error {
	if err := requirePositive(x); err != nil {
		return err
	}
	if w.Available.LessThan(x) {
		return fmt.Errorf("wallet: %w: available %s < withdraw %s", store.ErrInvariant, w.Available, x)
	}
	w.Available = w.Available.Sub(x)
	w.TotalWithdrawn = w.TotalWithdrawn.Add(x)
	return l.save(ctx, w)
}

// Lock moves x from available to locked, failing if available < x.
func (l *Ledger) Lock(ctx context.Context, w *store.Wallet, x money.Decimal) error {
	if err := requirePositive(x); err != nil {
		return err
	}
	if w.Available.LessThan(x) {
		return fmt.Errorf("wallet: %w: available %s < lock %s", store.ErrInvariant, w.Available, x)
	}
	w.Available = w.Available.Sub(x)
	w.Locked = w.Locked.Add(x)
	return l.save(ctx, w)
}

// Unlock moves x from locked back to available, failing if locked < x.
func (l *Ledger) Unlock(ctx context.Context, w *store.Wallet, x money.Decimal) error {
	if err := requirePositive(x); err != nil {
		return err
	}
	if w.Locked.LessThan(x) {
		return fmt.Errorf("wallet: %w: locked %s < unlock %s", store.ErrInvariant, w.Locked, x)
	}
	w.Locked = w.Locked.Sub(x)
	w.Available = w.Available.Add(x)
	return l.save(ctx, w)
}

// SettleDebitLocked removes x from locked without crediting available:
// funds leaving the user as part of a trade.
func (l *Ledger) SettleDebitLocked(ctx context.Context, w *store.Wallet, x money.Decimal) error {
	if err := requirePositive(x); err != nil {
		return err
	}
	if w.Locked.LessThan(x) {
		return fmt.Errorf("wallet: %w: locked %s < debit %s", store.ErrInvariant, w.Locked, x)
	}
	w.Locked = w.Locked.Sub(x)
	return l.save(ctx, w)
}

// SettleCreditAvailable adds x to available: funds received in a trade,
// net of fee.
func (l *Ledger) SettleCreditAvailable(ctx context.Context, w *store.Wallet, x money.Decimal) error {
	if err := requirePositive(x); err != nil {
		return err
	}
	w.Available = w.Available.Add(x)
	return l.save(ctx, w)
}
