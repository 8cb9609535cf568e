package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Balance      float64   `json:"balance"`
	TotalSpent   float64   `json:"total_spent"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GuestAccount is an anonymous payer. It carries the same wallet shape as a
// registered user but is identified by a device token instead of credentials.
type GuestAccount struct {
	ID          int64     `json:"id"`
	DeviceToken string    `json:"device_token"`
	Balance     float64   `json:"balance"`
	TotalSpent  float64   `json:"total_spent"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
