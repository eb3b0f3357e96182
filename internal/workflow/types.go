// Package workflow implements the application lifecycle: every status
// change is permission-gated against the application's region, appended
// to an immutable timeline, and serialized per application through an
// optimistic version check.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"sahayata.org/internal/region"
)

// Status is the lifecycle state of an application.
type Status string

const (
	StatusSubmitted          Status = "submitted"
	StatusUnderReview        Status = "under_review"
	StatusFieldVerification  Status = "field_verification"
	StatusInterviewScheduled Status = "interview_scheduled"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusDisbursing         Status = "disbursing"
	StatusCompleted          Status = "completed"
	StatusOnHold             Status = "on_hold"
	StatusReturned           Status = "returned"
)

// IsTerminal reports whether no further transition is defined.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusUnderReview, StatusFieldVerification,
		StatusInterviewScheduled, StatusApproved, StatusRejected,
		StatusDisbursing, StatusCompleted, StatusOnHold, StatusReturned:
		return true
	}
	return false
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

// TransitionEvent is one append-only timeline record. Events are never
// mutated or removed after append.
type TransitionEvent struct {
	From      Status    `json:"from_status"`
	To        Status    `json:"to_status"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

// InterviewRef points at the currently scheduled interview slot.
type InterviewRef struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Location    string    `json:"location,omitempty"`
}

// Tranche is one scheduled partial disbursement of the approved amount.
type Tranche struct {
	Index  int       `json:"index"`
	Amount int64     `json:"amount"` // minor units
	DueAt  time.Time `json:"due_at"`
	PaidAt time.Time `json:"paid_at,omitempty"`
}

// Paid reports whether the tranche has been paid out.
func (t Tranche) Paid() bool { return !t.PaidAt.IsZero() }

// Application is a welfare application moving through the lifecycle.
// RegionPath is copied from the beneficiary's region at submission and
// never recomputed. Version backs the optimistic save check.
type Application struct {
	ID              string            `json:"id"`
	Number          string            `json:"number"`
	BeneficiaryID   string            `json:"beneficiary_id"`
	SchemeID        string            `json:"scheme_id"`
	RegionPath      region.Path       `json:"region_path"`
	Status          Status            `json:"status"`
	RequestedAmount int64             `json:"requested_amount"`
	ApprovedAmount  int64             `json:"approved_amount,omitempty"`
	Timeline        []TransitionEvent `json:"timeline"`
	Interview       *InterviewRef     `json:"interview,omitempty"`
	RescheduleCount int               `json:"reschedule_count,omitempty"`
	Tranches        []Tranche         `json:"tranches,omitempty"`
	Version         uint64            `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

var (
	ErrNotFound     = errors.New("workflow: not found")
	ErrConflict     = errors.New("workflow: concurrent update conflict")
	ErrInvalidInput = errors.New("workflow: invalid input")

	// ErrInvalidTransition marks a target state unreachable from the
	// current one. A caller bug, not a data problem.
	ErrInvalidTransition = errors.New("workflow: invalid transition")

	// ErrBudgetExceeded marks an approval whose amount does not fit the
	// scheme's remaining budget. The application status is unchanged.
	ErrBudgetExceeded = errors.New("workflow: budget exceeded")

	// ErrTranchesUnpaid blocks completion while tranches remain unpaid.
	ErrTranchesUnpaid = errors.New("workflow: unpaid tranches remain")

	// ErrRescheduleLimit marks an interview reschedule beyond the
	// configured cap.
	ErrRescheduleLimit = errors.New("workflow: reschedule limit reached")
)

// DeniedError wraps an authorization refusal on a transition attempt.
// It is an expected outcome, distinct from infrastructure errors.
type DeniedError struct {
	Permission string
	Reason     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("workflow: denied %s (%s)", e.Permission, e.Reason)
}

// IsDenied reports whether err is an authorization refusal and returns it.
func IsDenied(err error) (*DeniedError, bool) {
	var de *DeniedError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
