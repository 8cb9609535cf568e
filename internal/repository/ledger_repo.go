package repository

import (
	"context"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
	"github.com/google/uuid"
)

type CreateLedgerEntryInput struct {
	AccountKind  string
	AccountID    int64
	Direction    string
	Amount       float64
	BalanceAfter float64
	CallID       int64
	Kind         string
}

// LedgerRepository appends immutable money-movement records. There is no
// update or delete path on purpose.
type LedgerRepository struct {
	db DBTX
}

func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, input CreateLedgerEntryInput) (*models.LedgerEntry, error) {
	query := `
		INSERT INTO ledger_entries (entry_uuid, account_kind, account_id, direction, amount, balance_after, call_id, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, entry_uuid, account_kind, account_id, direction, amount, balance_after, call_id, kind, created_at
	`

	var entry models.LedgerEntry
	err := r.db.QueryRow(
		ctx,
		query,
		uuid.NewString(),
		input.AccountKind,
		input.AccountID,
		input.Direction,
		input.Amount,
		input.BalanceAfter,
		input.CallID,
		input.Kind,
	).Scan(
		&entry.ID,
		&entry.EntryUUID,
		&entry.AccountKind,
		&entry.AccountID,
		&entry.Direction,
		&entry.Amount,
		&entry.BalanceAfter,
		&entry.CallID,
		&entry.Kind,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) ListByCallID(ctx context.Context, callID int64) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, entry_uuid, account_kind, account_id, direction, amount, balance_after, call_id, kind, created_at
		FROM ledger_entries
		WHERE call_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.EntryUUID,
			&entry.AccountKind,
			&entry.AccountID,
			&entry.Direction,
			&entry.Amount,
			&entry.BalanceAfter,
			&entry.CallID,
			&entry.Kind,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
