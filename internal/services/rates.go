package services

import (
	"math"
	"time"
)

// Affordability is the answer to "can this balance meter one more minute at
// this rate". The balance math is pure; FirstMinuteFree is filled in by the
// call service from the caller's unconsumed allowances.
type Affordability struct {
	CanAfford       bool    `json:"can_afford"`
	RatePerMinute   float64 `json:"rate_per_minute"`
	Balance         float64 `json:"balance"`
	MaxWholeMinutes int     `json:"max_whole_minutes"`
	FirstMinuteFree bool    `json:"first_minute_free"`
}

// CheckAffordability is the single affordability rule used by both the
// pre-call check and every billing tick. A rate of zero or less cannot be
// metered and is rejected before this point; it yields CanAfford = false here
// as a backstop.
func CheckAffordability(balance, rate float64) Affordability {
	result := Affordability{
		RatePerMinute: rate,
		Balance:       balance,
	}
	if rate <= 0 {
		return result
	}
	result.CanAfford = balance >= rate
	result.MaxWholeMinutes = int(math.Floor(balance / rate))
	return result
}

// billedMinutes implements the round-up billing policy: any started minute
// since the anchor bills in full, but an exact minute boundary belongs to the
// minute it closes. 59s -> 1, 60s -> 1, 61s -> 2.
func billedMinutes(anchor, now time.Time) int {
	elapsed := now.Sub(anchor)
	if elapsed <= 0 {
		return 0
	}
	minutes := int(elapsed / time.Minute)
	if elapsed%time.Minute != 0 {
		minutes++
	}
	return minutes
}

// splitCharge divides one minute's rate between platform commission and the
// coach's share. The share is derived by subtraction so the two always sum
// back to the rate.
func splitCharge(rate, commissionRate float64) (commission, coachShare float64) {
	commission = round2(rate * commissionRate)
	coachShare = round2(rate - commission)
	return commission, coachShare
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
