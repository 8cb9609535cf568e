package models

import "time"

const (
	CallStatusOngoing   = "ongoing"
	CallStatusCompleted = "completed"
	CallStatusCancelled = "cancelled"
	CallStatusNoAnswer  = "no_answer"
)

const (
	CallTypeChat  = "chat"
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

const (
	EndReasonManual            = "manual"
	EndReasonInsufficientFunds = "insufficient_funds"
	EndReasonNoAnswer          = "no_answer"
	EndReasonCancelled         = "cancelled"
	EndReasonBillingFailure    = "billing_failure"
)

const (
	AccountKindRegistered = "registered"
	AccountKindGuest      = "guest"
)

// Call is the live consultation record. It is never deleted; terminated calls
// stay as the audit trail for the ledger entries that reference them.
type Call struct {
	ID            int64   `json:"id"`
	ClientID      int64   `json:"client_id"`
	ClientKind    string  `json:"client_kind"`
	CoachID       int64   `json:"coach_id"`
	CallType      string  `json:"call_type"`
	RatePerMinute float64 `json:"rate_per_minute"`
	Status        string  `json:"status"`

	ClientAccepted   bool       `json:"client_accepted"`
	ClientAcceptedAt *time.Time `json:"client_accepted_at"`
	CoachAccepted    bool       `json:"coach_accepted"`
	CoachAcceptedAt  *time.Time `json:"coach_accepted_at"`

	// BothAcceptedAt is the billing anchor: set exactly once when the coach
	// accepts, immutable afterwards. All duration math derives from it,
	// never from CreatedAt.
	BothAcceptedAt  *time.Time `json:"start_time"`
	BillingStarted  bool       `json:"billing_started"`
	LastBillingTime *time.Time `json:"last_billing_time"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalAmount     float64    `json:"total_amount"`
	ChargedMinutes  int        `json:"charged_minutes"`

	EndTime   *time.Time `json:"end_time"`
	EndReason *string    `json:"end_reason"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Call) IsTerminal() bool {
	switch c.Status {
	case CallStatusCompleted, CallStatusCancelled, CallStatusNoAnswer:
		return true
	}
	return false
}

func (c *Call) IsParticipant(kind string, id int64) bool {
	if kind == AccountKindRegistered && c.CoachID == id {
		return true
	}
	return c.ClientKind == kind && c.ClientID == id
}
