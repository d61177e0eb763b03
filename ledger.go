package billing

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// Entry is one balance mutation.
type Entry struct {
	Type transaction.Type
	// Amount is taken as an absolute value; the sign comes from Type.
	Amount      int64
	Description string
	PaymentID   string
	UserID      string
}

// ──────────────────────────────────────────────────
// Wallet Management
// ──────────────────────────────────────────────────

// CreateWallet creates a wallet with a zero balance.
func (e *Engine) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	if w.OwnerID == "" {
		return ValidationError{Field: "owner_id", Message: "is required"}
	}
	if w.Currency == "" {
		return ValidationError{Field: "currency", Message: "is required"}
	}
	if w.ID.IsNil() {
		w.ID = id.NewWalletID()
	}
	now := e.now()
	w.Entity = types.NewEntityAt(now)
	w.Currency = strings.ToLower(w.Currency)
	w.Country = strings.ToUpper(w.Country)
	w.Balance = 0

	if err := e.store.CreateWallet(ctx, w); err != nil {
		return err
	}

	e.plugins.EmitWalletCreated(ctx, w)
	return nil
}

// GetWallet retrieves a wallet by ID.
func (e *Engine) GetWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	return e.store.GetWallet(ctx, walletID)
}

// ListWallets lists wallets, e.g. for a sweep.
func (e *Engine) ListWallets(ctx context.Context, opts wallet.ListOpts) ([]*wallet.Wallet, error) {
	return e.store.ListWallets(ctx, opts)
}

// OwnerWallets lists the wallets of an owner.
func (e *Engine) OwnerWallets(ctx context.Context, ownerID string) ([]*wallet.Wallet, error) {
	return e.store.ListWalletsByOwner(ctx, ownerID)
}

// DeleteWallet removes an empty wallet. The last wallet of an owner is
// never deleted.
func (e *Engine) DeleteWallet(ctx context.Context, walletID id.WalletID) error {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if w.Balance != 0 {
		return ErrWalletNotEmpty
	}

	owned, err := e.store.ListWalletsByOwner(ctx, w.OwnerID)
	if err != nil {
		return err
	}
	if len(owned) <= 1 {
		return ErrLastWallet
	}

	if err := e.store.DeleteWallet(ctx, walletID); err != nil {
		return err
	}

	e.plugins.EmitWalletDeleted(ctx, w)
	return nil
}

// AddController grants userID the owner's billing rights on the wallet.
func (e *Engine) AddController(ctx context.Context, walletID id.WalletID, userID string) error {
	_, err := e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		if userID == "" || userID == w.OwnerID {
			return ValidationError{Field: "user_id", Message: "must be another user than the owner"}
		}
		if !w.IsController(userID) {
			w.Controllers = append(w.Controllers, userID)
		}
		return nil
	})
	return err
}

// RemoveController revokes the billing rights of userID.
func (e *Engine) RemoveController(ctx context.Context, walletID id.WalletID, userID string) error {
	_, err := e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		i := slices.Index(w.Controllers, userID)
		if i < 0 {
			return ErrNotController
		}
		w.Controllers = slices.Delete(w.Controllers, i, i+1)
		return nil
	})
	return err
}

// Authorize returns ErrForbidden unless userID owns or controls the wallet.
func (e *Engine) Authorize(ctx context.Context, walletID id.WalletID, userID string) (*wallet.Wallet, error) {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !w.CanManage(userID) {
		return nil, ErrForbidden
	}
	return w, nil
}

// SetDiscount sets or, with a nil id, clears the wallet discount.
func (e *Engine) SetDiscount(ctx context.Context, walletID id.WalletID, discountID id.DiscountID) (*wallet.Wallet, error) {
	if !discountID.IsNil() {
		if _, err := e.store.GetDiscount(ctx, discountID); err != nil {
			return nil, err
		}
	}
	return e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		w.DiscountID = discountID
		return nil
	})
}

// Restrict degrades the wallet: it is no longer charged until a credit
// brings the balance back to zero.
func (e *Engine) Restrict(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	var changed bool
	w, err := e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		changed = !w.Restricted
		w.Restricted = true
		return nil
	})
	if err == nil && changed {
		e.plugins.EmitWalletRestricted(ctx, w)
	}
	return w, err
}

// updateWallet applies fn to the locked wallet and persists it.
func (e *Engine) updateWallet(ctx context.Context, walletID id.WalletID, fn func(w *wallet.Wallet) error) (*wallet.Wallet, error) {
	var out *wallet.Wallet
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if err := fn(w); err != nil {
			return err
		}
		w.TouchAt(e.now())
		out = w
		return tx.UpdateWallet(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Ledger operations
// ──────────────────────────────────────────────────

// Credit adds amount to the wallet balance.
func (e *Engine) Credit(ctx context.Context, walletID id.WalletID, amount int64, description string) (*transaction.Transaction, error) {
	return e.Record(ctx, walletID, Entry{Type: transaction.TypeCredit, Amount: amount, Description: description})
}

// Debit removes amount from the wallet balance.
func (e *Engine) Debit(ctx context.Context, walletID id.WalletID, amount int64, description string) (*transaction.Transaction, error) {
	return e.Record(ctx, walletID, Entry{Type: transaction.TypeDebit, Amount: amount, Description: description})
}

// Award credits amount as a goodwill gesture.
func (e *Engine) Award(ctx context.Context, walletID id.WalletID, amount int64, description string) (*transaction.Transaction, error) {
	return e.Record(ctx, walletID, Entry{Type: transaction.TypeAward, Amount: amount, Description: description})
}

// Penalty debits amount as a fine.
func (e *Engine) Penalty(ctx context.Context, walletID id.WalletID, amount int64, description string) (*transaction.Transaction, error) {
	return e.Record(ctx, walletID, Entry{Type: transaction.TypePenalty, Amount: amount, Description: description})
}

// Record books one wallet transaction and updates the cached balance in
// the same unit of work. The amount is unsigned; the entry type decides
// the direction. A zero amount records nothing and returns nil.
func (e *Engine) Record(ctx context.Context, walletID id.WalletID, en Entry) (*transaction.Transaction, error) {
	if !en.Type.IsWalletType() {
		return nil, fmt.Errorf("%w: %q is not a wallet transaction", ErrInvalidInput, en.Type)
	}
	if en.Amount < 0 {
		return nil, ValidationError{Field: "amount", Message: "must be positive", Err: ErrInvalidInput}
	}
	if en.Amount == 0 {
		return nil, nil
	}

	var (
		txn    *transaction.Transaction
		after  effects
		result *wallet.Wallet
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		txn, err = e.book(ctx, tx, w, en, &after)
		if err != nil {
			return err
		}
		result = w
		return tx.UpdateWallet(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	after.run(ctx)
	e.logger.Debug("wallet transaction recorded",
		"wallet_id", walletID.String(),
		"type", en.Type,
		"amount", txn.Amount,
		"balance", result.Balance,
	)
	return txn, nil
}

// book appends the transaction for en and applies it to w. The sign of
// en.Amount is ignored so reversals can pass signed gateway amounts. The
// caller persists w. A credit that brings a restricted wallet back to a
// non-negative balance lifts the restriction.
func (e *Engine) book(ctx context.Context, tx store.Tx, w *wallet.Wallet, en Entry, after *effects) (*transaction.Transaction, error) {
	if en.Amount == 0 {
		return nil, nil
	}

	amount := en.Amount
	if amount < 0 {
		amount = -amount
	}
	amount *= en.Type.Sign()

	txn := &transaction.Transaction{
		ID:          id.NewTransactionID(),
		WalletID:    w.ID,
		ObjectType:  transaction.ObjectWallet,
		ObjectID:    w.ID.String(),
		Type:        en.Type,
		Amount:      amount,
		Description: en.Description,
		PaymentID:   en.PaymentID,
		UserID:      en.UserID,
		CreatedAt:   e.now(),
	}
	if err := tx.CreateTransactions(ctx, txn); err != nil {
		return nil, err
	}

	w.Balance += amount
	w.TouchAt(e.now())

	lifted := amount > 0 && w.Restricted && w.Balance >= 0
	if lifted {
		w.Restricted = false
	}
	if w.Balance >= 0 {
		w.Check.Reset()
	}

	snapshot := *w
	after.add(func(ctx context.Context) {
		e.plugins.EmitTransactionRecorded(ctx, &snapshot, txn)
		if lifted {
			e.plugins.EmitWalletUnrestricted(ctx, &snapshot)
		}
	})
	return txn, nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// Transactions lists the wallet transactions, newest first.
func (e *Engine) Transactions(ctx context.Context, walletID id.WalletID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	return e.store.ListTransactions(ctx, walletID, opts)
}

// TransactionItems lists the itemized children of a wallet transaction.
func (e *Engine) TransactionItems(ctx context.Context, txnID id.TransactionID) ([]*transaction.Transaction, error) {
	return e.store.TransactionChildren(ctx, txnID)
}

// VerifyBalance compares the cached balance with the sum of the wallet
// transactions and returns ErrBalanceMismatch when they differ.
func (e *Engine) VerifyBalance(ctx context.Context, walletID id.WalletID) error {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	sum, err := e.store.SumBalance(ctx, walletID)
	if err != nil {
		return err
	}
	if sum == w.Balance {
		return nil
	}

	e.logger.Error("wallet balance mismatch",
		"wallet_id", walletID.String(),
		"balance", w.Balance,
		"transactions", sum,
	)
	e.plugins.EmitBalanceMismatch(ctx, walletID, w.Balance, sum)
	return fmt.Errorf("%w: wallet %s balance %d, transactions %d", ErrBalanceMismatch, walletID, w.Balance, sum)
}
