package repository

import (
	"context"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
)

type GuestRepository struct {
	db DBTX
}

func NewGuestRepository(db DBTX) *GuestRepository {
	return &GuestRepository{db: db}
}

func (r *GuestRepository) Create(ctx context.Context, deviceToken string) (*models.GuestAccount, error) {
	query := `
		INSERT INTO guest_accounts (device_token)
		VALUES ($1)
		ON CONFLICT (device_token) DO UPDATE SET updated_at = NOW()
		RETURNING id, device_token, balance, total_spent, created_at, updated_at
	`
	var guest models.GuestAccount
	err := r.db.QueryRow(ctx, query, deviceToken).Scan(
		&guest.ID,
		&guest.DeviceToken,
		&guest.Balance,
		&guest.TotalSpent,
		&guest.CreatedAt,
		&guest.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &guest, nil
}

func (r *GuestRepository) GetByID(ctx context.Context, id int64) (*models.GuestAccount, error) {
	query := `
		SELECT id, device_token, balance, total_spent, created_at, updated_at
		FROM guest_accounts
		WHERE id = $1
	`
	var guest models.GuestAccount
	err := r.db.QueryRow(ctx, query, id).Scan(
		&guest.ID,
		&guest.DeviceToken,
		&guest.Balance,
		&guest.TotalSpent,
		&guest.CreatedAt,
		&guest.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &guest, nil
}
