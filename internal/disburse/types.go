// Package disburse tracks scheme budgets and tranche payments. All
// amounts are integer minor currency units; no floats.
package disburse

import (
	"errors"
	"time"
)

// Budget is the running spend position of one scheme.
type Budget struct {
	SchemeID  string `json:"scheme_id"`
	Allocated int64  `json:"allocated"` // minor units
	Committed int64  `json:"committed"` // reserved by approvals, not yet paid
	Spent     int64  `json:"spent"`     // actually paid out
}

// Remaining is the amount still available for new approvals.
func (b Budget) Remaining() int64 { return b.Allocated - b.Committed - b.Spent }

// Payment is one recorded tranche payout.
type Payment struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	SchemeID       string    `json:"scheme_id"`
	ApplicationID  string    `json:"application_id"`
	TrancheIndex   int       `json:"tranche_index"`
	Amount         int64     `json:"amount"` // minor units
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Sequence       uint64    `json:"sequence"` // monotonic sequence number
}

var (
	ErrNotFound         = errors.New("disburse: not found")
	ErrInvalidAmount    = errors.New("disburse: invalid amount (must be > 0)")
	ErrBudgetExhausted  = errors.New("disburse: budget exhausted")
	ErrNothingCommitted = errors.New("disburse: payment exceeds committed amount")
)
