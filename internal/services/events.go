package services

import (
	"fmt"
	"time"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
)

// Actor identifies the caller of an operation: a registered user (clients and
// coaches) or an anonymous guest. The kind is resolved once from the auth
// token and carried through, never re-detected per call.
type Actor struct {
	Kind string
	ID   int64
}

func (a Actor) IsCoachOf(call *models.Call) bool {
	return a.Kind == models.AccountKindRegistered && call.CoachID == a.ID
}

func (a Actor) IsClientOf(call *models.Call) bool {
	return call.ClientKind == a.Kind && call.ClientID == a.ID
}

func (a Actor) Key() string {
	return recipientKey(a.Kind, a.ID)
}

func recipientKey(kind string, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

const (
	EventIncomingCall      = "incoming_call"
	EventBillingStarted    = "billing_started"
	EventBillingUpdate     = "billing_update"
	EventBillingTerminated = "billing_terminated"
	EventCallNoAnswer      = "call_no_answer"
)

// CallEvent is the fire-and-forget payload pushed to connected parties over
// the websocket hub. Emission never blocks and never rolls back a financial
// mutation.
type CallEvent struct {
	Type             string     `json:"type"`
	CallID           int64      `json:"call_id"`
	CallType         string     `json:"call_type,omitempty"`
	CoachID          int64      `json:"coach_id,omitempty"`
	RatePerMinute    float64    `json:"rate_per_minute,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	DurationMinutes  int        `json:"duration_minutes"`
	TotalAmount      float64    `json:"total_amount"`
	RemainingBalance *float64   `json:"remaining_balance,omitempty"`
	CanContinue      *bool      `json:"can_continue,omitempty"`
	EndReason        string     `json:"end_reason,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
}

type callNotifier interface {
	Notify(recipients []string, event CallEvent)
}

func callRecipients(call *models.Call) []string {
	return []string{
		recipientKey(call.ClientKind, call.ClientID),
		recipientKey(models.AccountKindRegistered, call.CoachID),
	}
}
