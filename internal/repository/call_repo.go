package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
)

const callColumns = `
	id, client_id, client_kind, coach_id, call_type, rate_per_minute, status,
	client_accepted, client_accepted_at, coach_accepted, coach_accepted_at,
	both_accepted_at, billing_started, last_billing_time,
	duration_minutes, total_amount, charged_minutes,
	end_time, end_reason, created_at, updated_at
`

type CreateCallInput struct {
	ClientID      int64
	ClientKind    string
	CoachID       int64
	CallType      string
	RatePerMinute float64
}

type CallRepository struct {
	db DBTX
}

func NewCallRepository(db DBTX) *CallRepository {
	return &CallRepository{db: db}
}

func scanCall(row interface{ Scan(dest ...any) error }) (*models.Call, error) {
	var call models.Call
	err := row.Scan(
		&call.ID,
		&call.ClientID,
		&call.ClientKind,
		&call.CoachID,
		&call.CallType,
		&call.RatePerMinute,
		&call.Status,
		&call.ClientAccepted,
		&call.ClientAcceptedAt,
		&call.CoachAccepted,
		&call.CoachAcceptedAt,
		&call.BothAcceptedAt,
		&call.BillingStarted,
		&call.LastBillingTime,
		&call.DurationMinutes,
		&call.TotalAmount,
		&call.ChargedMinutes,
		&call.EndTime,
		&call.EndReason,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (r *CallRepository) Create(ctx context.Context, input CreateCallInput) (*models.Call, error) {
	query := fmt.Sprintf(`
		INSERT INTO calls (client_id, client_kind, coach_id, call_type, rate_per_minute, status, client_accepted, client_accepted_at)
		VALUES ($1, $2, $3, $4, $5, 'ongoing', TRUE, NOW())
		RETURNING %s
	`, callColumns)

	return scanCall(r.db.QueryRow(
		ctx,
		query,
		input.ClientID,
		input.ClientKind,
		input.CoachID,
		input.CallType,
		input.RatePerMinute,
	))
}

func (r *CallRepository) GetByID(ctx context.Context, callID int64) (*models.Call, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM calls
		WHERE id = $1
	`, callColumns)
	return scanCall(r.db.QueryRow(ctx, query, callID))
}

func (r *CallRepository) GetByIDForUpdate(ctx context.Context, callID int64) (*models.Call, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM calls
		WHERE id = $1
		FOR UPDATE
	`, callColumns)
	return scanCall(r.db.QueryRow(ctx, query, callID))
}

// MarkCoachAccepted flips coach acceptance and anchors billing in one
// statement, guarded on the current state so a duplicate accept cannot land.
// The returned row carries the anchor the statement set.
func (r *CallRepository) MarkCoachAccepted(ctx context.Context, callID int64, acceptedAt time.Time) (*models.Call, error) {
	query := fmt.Sprintf(`
		UPDATE calls
		SET coach_accepted = TRUE,
		    coach_accepted_at = $2,
		    both_accepted_at = $2,
		    billing_started = TRUE,
		    last_billing_time = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ongoing' AND coach_accepted = FALSE
		RETURNING %s
	`, callColumns)
	return scanCall(r.db.QueryRow(ctx, query, callID, acceptedAt))
}

type BillingUpdateInput struct {
	CallID          int64
	DurationMinutes int
	TotalAmount     float64
	ChargedMinutes  int
	LastBillingTime time.Time
}

func (r *CallRepository) UpdateBillingProgress(ctx context.Context, input BillingUpdateInput) (*models.Call, error) {
	query := fmt.Sprintf(`
		UPDATE calls
		SET duration_minutes = $2,
		    total_amount = $3,
		    charged_minutes = $4,
		    last_billing_time = $5,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ongoing'
		RETURNING %s
	`, callColumns)
	return scanCall(r.db.QueryRow(
		ctx,
		query,
		input.CallID,
		input.DurationMinutes,
		input.TotalAmount,
		input.ChargedMinutes,
		input.LastBillingTime,
	))
}

type TerminateCallInput struct {
	CallID          int64
	Status          string
	EndReason       string
	EndTime         time.Time
	DurationMinutes int
	TotalAmount     float64
	ChargedMinutes  int
}

// Terminate closes the call, guarded on it still being ongoing so two racing
// terminations cannot both land.
func (r *CallRepository) Terminate(ctx context.Context, input TerminateCallInput) (*models.Call, error) {
	query := fmt.Sprintf(`
		UPDATE calls
		SET status = $2,
		    end_reason = $3,
		    end_time = $4,
		    duration_minutes = $5,
		    total_amount = $6,
		    charged_minutes = $7,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ongoing'
		RETURNING %s
	`, callColumns)
	return scanCall(r.db.QueryRow(
		ctx,
		query,
		input.CallID,
		input.Status,
		input.EndReason,
		input.EndTime,
		input.DurationMinutes,
		input.TotalAmount,
		input.ChargedMinutes,
	))
}

func (r *CallRepository) ListOngoing(ctx context.Context, kind string, accountID int64) ([]models.Call, error) {
	whereParts := []string{"status = 'ongoing'"}
	args := []any{accountID, kind}
	whereParts = append(whereParts, "((client_id = $1 AND client_kind = $2) OR (coach_id = $1 AND $2 = 'registered'))")

	query := fmt.Sprintf(`
		SELECT %s
		FROM calls
		WHERE %s
		ORDER BY created_at ASC, id ASC
	`, callColumns, strings.Join(whereParts, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := make([]models.Call, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return calls, nil
}
