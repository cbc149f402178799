package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/store"
)

type walletsRepo struct {
	db dbtx
}

func (r *walletsRepo) GetAccount(ctx context.Context, userID string) (domain.WalletAccount, error) {
	var (
		a       domain.WalletAccount
		balance string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, balance_mxn, updated_at
		FROM wallet_accounts
		WHERE user_id = ?`, userID,
	).Scan(&a.UserID, &balance, &a.UpdatedAt)
	if err != nil {
		return domain.WalletAccount{}, mapNotFound(err)
	}

	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return domain.WalletAccount{}, fmt.Errorf("bad balance for wallet %s: %w", userID, err)
	}
	return a, nil
}

// Balances are decimal strings, so arithmetic happens in Go. Callers run
// credit/debit inside a store transaction to keep read-modify-write atomic.
func (r *walletsRepo) CreditAccount(ctx context.Context, userID string, amount decimal.Decimal) error {
	account, err := r.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO wallet_accounts (user_id, balance_mxn, updated_at)
			VALUES (?, ?, ?)`,
			userID, amount.String(), time.Now().UTC(),
		)
		return err
	}
	if err != nil {
		return err
	}

	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE wallet_accounts
		SET balance_mxn = ?, updated_at = ?
		WHERE user_id = ? AND balance_mxn = ?`,
		account.Balance.Add(amount).String(), time.Now().UTC(), userID, account.Balance.String(),
	))
}

func (r *walletsRepo) DebitAccount(ctx context.Context, userID string, amount decimal.Decimal) error {
	account, err := r.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if account.Balance.LessThan(amount) {
		return store.ErrConflict
	}

	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE wallet_accounts
		SET balance_mxn = ?, updated_at = ?
		WHERE user_id = ? AND balance_mxn = ?`,
		account.Balance.Sub(amount).String(), time.Now().UTC(), userID, account.Balance.String(),
	))
}

func (r *walletsRepo) ListTransactions(ctx context.Context, userID string) ([]domain.WalletTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount_mxn, reference, detail, created_at
		FROM wallet_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WalletTransaction
	for rows.Next() {
		var (
			t      domain.WalletTransaction
			kind   string
			amount string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &kind, &amount, &t.Reference, &t.Detail, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount for transaction %s: %w", t.ID, err)
		}
		t.Kind = domain.TransactionKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *walletsRepo) CreateTransaction(ctx context.Context, t domain.WalletTransaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, user_id, kind, amount_mxn, reference, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Kind), t.Amount.String(), t.Reference, t.Detail,
	)
	return err
}
