package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// WalletRepository moves money on the two account kinds. Debits are guarded by
// a balance >= amount predicate in the UPDATE itself, so a balance can never be
// driven negative even under concurrent charges; a failed guard surfaces as
// pgx.ErrNoRows.
type WalletRepository struct {
	db DBTX
}

func NewWalletRepository(db DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

func walletTable(kind string) string {
	if kind == "guest" {
		return "guest_accounts"
	}
	return "users"
}

func (r *WalletRepository) BalanceForUpdate(ctx context.Context, kind string, accountID int64) (float64, error) {
	query := `SELECT balance FROM ` + walletTable(kind) + ` WHERE id = $1 FOR UPDATE`
	var balance float64
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *WalletRepository) Balance(ctx context.Context, kind string, accountID int64) (float64, error) {
	query := `SELECT balance FROM ` + walletTable(kind) + ` WHERE id = $1`
	var balance float64
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit withdraws amount and bumps the cumulative spent figure, returning the
// balance after the movement. pgx.ErrNoRows means the guard failed: either the
// account is unknown or the balance no longer covers the amount.
func (r *WalletRepository) Debit(ctx context.Context, kind string, accountID int64, amount float64) (float64, error) {
	query := `
		UPDATE ` + walletTable(kind) + `
		SET balance = balance - $2,
		    total_spent = total_spent + $2,
		    updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`
	var balanceAfter float64
	if err := r.db.QueryRow(ctx, query, accountID, amount).Scan(&balanceAfter); err != nil {
		return 0, err
	}
	return balanceAfter, nil
}

func (r *WalletRepository) Credit(ctx context.Context, kind string, accountID int64, amount float64) (float64, error) {
	query := `
		UPDATE ` + walletTable(kind) + `
		SET balance = balance + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`
	var balanceAfter float64
	if err := r.db.QueryRow(ctx, query, accountID, amount).Scan(&balanceAfter); err != nil {
		return 0, err
	}
	return balanceAfter, nil
}

// CreditCoachEarnings records the coach's share on the profile aggregate in
// addition to the wallet credit.
func (r *WalletRepository) CreditCoachEarnings(ctx context.Context, coachID int64, amount float64) error {
	query := `
		UPDATE coach_profiles
		SET total_earned = total_earned + $2, updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.db.Exec(ctx, query, coachID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
