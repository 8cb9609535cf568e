package repository

import (
	"context"
)

type ConsumeExemptionInput struct {
	Kind       string
	ClientKind string
	ClientID   int64
	CoachID    int64
	CallID     int64
}

// ExemptionRepository records one-time free allowances. Consumption is an
// insert against a unique key, so of any number of concurrent attempts for the
// same allowance exactly one observes consumed == true.
type ExemptionRepository struct {
	db DBTX
}

func NewExemptionRepository(db DBTX) *ExemptionRepository {
	return &ExemptionRepository{db: db}
}

// TryConsume returns true iff this call consumed the allowance just now. A
// previously consumed allowance conflicts on the unique key and returns false.
func (r *ExemptionRepository) TryConsume(ctx context.Context, input ConsumeExemptionInput) (bool, error) {
	query := `
		INSERT INTO exemptions (kind, client_kind, client_id, coach_id, call_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, client_kind, client_id, coach_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, input.Kind, input.ClientKind, input.ClientID, input.CoachID, input.CallID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ExemptionRepository) IsConsumed(ctx context.Context, kind, clientKind string, clientID, coachID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM exemptions
			WHERE kind = $1 AND client_kind = $2 AND client_id = $3 AND coach_id = $4
		)
	`
	var consumed bool
	if err := r.db.QueryRow(ctx, query, kind, clientKind, clientID, coachID).Scan(&consumed); err != nil {
		return false, err
	}
	return consumed, nil
}
