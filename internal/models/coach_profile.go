package models

import "time"

type CoachProfile struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"user_id"`
	FullName           *string   `json:"full_name"`
	AvatarURL          *string   `json:"avatar_url"`
	Bio                *string   `json:"bio"`
	ChatRate           *float64  `json:"chat_rate"`
	AudioRate          *float64  `json:"audio_rate"`
	VideoRate          *float64  `json:"video_rate"`
	CommissionOverride *float64  `json:"commission_override"`
	IsOnline           bool      `json:"is_online"`
	TotalEarned        float64   `json:"total_earned"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RateFor returns the coach's per-minute rate for a call type, or nil when the
// coach does not offer that type.
func (p *CoachProfile) RateFor(callType string) *float64 {
	switch callType {
	case CallTypeChat:
		return p.ChatRate
	case CallTypeAudio:
		return p.AudioRate
	case CallTypeVideo:
		return p.VideoRate
	}
	return nil
}
