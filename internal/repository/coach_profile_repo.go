package repository

import (
	"context"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
)

const coachProfileColumns = `
	id, user_id, full_name, avatar_url, bio,
	chat_rate, audio_rate, video_rate, commission_override,
	is_online, total_earned, onboarding_complete, created_at, updated_at
`

type CoachProfileRepository struct {
	db DBTX
}

func NewCoachProfileRepository(db DBTX) *CoachProfileRepository {
	return &CoachProfileRepository{db: db}
}

func scanCoachProfile(row interface{ Scan(dest ...any) error }) (*models.CoachProfile, error) {
	var profile models.CoachProfile
	err := row.Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FullName,
		&profile.AvatarURL,
		&profile.Bio,
		&profile.ChatRate,
		&profile.AudioRate,
		&profile.VideoRate,
		&profile.CommissionOverride,
		&profile.IsOnline,
		&profile.TotalEarned,
		&profile.OnboardingComplete,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *CoachProfileRepository) CreateEmpty(ctx context.Context, userID int64) error {
	query := `INSERT INTO coach_profiles (user_id) VALUES ($1)`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

func (r *CoachProfileRepository) GetByUserID(ctx context.Context, userID int64) (*models.CoachProfile, error) {
	query := `
		SELECT ` + coachProfileColumns + `
		FROM coach_profiles
		WHERE user_id = $1
	`
	return scanCoachProfile(r.db.QueryRow(ctx, query, userID))
}

type CoachRatesInput struct {
	FullName  string
	Bio       *string
	ChatRate  *float64
	AudioRate *float64
	VideoRate *float64
}

func (r *CoachProfileRepository) UpdateRates(ctx context.Context, userID int64, input CoachRatesInput) (*models.CoachProfile, error) {
	query := `
		UPDATE coach_profiles
		SET full_name = $2,
		    bio = COALESCE($3, bio),
		    chat_rate = $4,
		    audio_rate = $5,
		    video_rate = $6,
		    onboarding_complete = TRUE,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + coachProfileColumns + `
	`
	return scanCoachProfile(r.db.QueryRow(
		ctx,
		query,
		userID,
		input.FullName,
		input.Bio,
		input.ChatRate,
		input.AudioRate,
		input.VideoRate,
	))
}

func (r *CoachProfileRepository) SetOnline(ctx context.Context, userID int64, online bool) error {
	query := `
		UPDATE coach_profiles
		SET is_online = $2, updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := r.db.Exec(ctx, query, userID, online)
	return err
}

func (r *CoachProfileRepository) ListOnline(ctx context.Context) ([]models.CoachProfile, error) {
	query := `
		SELECT ` + coachProfileColumns + `
		FROM coach_profiles
		WHERE is_online = TRUE AND onboarding_complete = TRUE
		ORDER BY total_earned DESC, id ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]models.CoachProfile, 0)
	for rows.Next() {
		profile, err := scanCoachProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}
