package models

import "time"

const (
	LedgerDebit  = "debit"
	LedgerCredit = "credit"
)

const (
	LedgerKindCharge     = "charge"
	LedgerKindSettlement = "settlement"
)

// LedgerEntry is one immutable money movement. Every charge produces a pair:
// a debit against the payer and a credit for the coach, both referencing the
// call they belong to and snapshotting the balance after the movement.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	EntryUUID    string    `json:"entry_uuid"`
	AccountKind  string    `json:"account_kind"`
	AccountID    int64     `json:"account_id"`
	Direction    string    `json:"direction"`
	Amount       float64   `json:"amount"`
	BalanceAfter float64   `json:"balance_after"`
	CallID       int64     `json:"call_id"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	ExemptionPairFirstMinute = "pair_first_minute"
	ExemptionAccountTrial    = "account_trial"
)

// Exemption marks a one-time free allowance as consumed. Rows are append-only
// and unique on (kind, client_kind, client_id, coach_id), so consumption is an
// insert that either lands or conflicts.
type Exemption struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	ClientKind string    `json:"client_kind"`
	ClientID   int64     `json:"client_id"`
	CoachID    int64     `json:"coach_id"`
	CallID     int64     `json:"call_id"`
	CreatedAt  time.Time `json:"created_at"`
}
