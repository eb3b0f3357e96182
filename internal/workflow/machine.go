package workflow

import (
	"fmt"

	"sahayata.org/internal/authz"
)

// edges is the base transition graph. Interview-dependent edges are
// filtered in targets; on_hold and returned are handled separately
// because they are reachable from any non-terminal state.
var edges = map[Status][]Status{
	StatusSubmitted:          {StatusUnderReview, StatusInterviewScheduled, StatusApproved, StatusRejected},
	StatusUnderReview:        {StatusFieldVerification, StatusInterviewScheduled, StatusApproved, StatusRejected},
	StatusFieldVerification:  {StatusUnderReview, StatusApproved, StatusRejected},
	StatusInterviewScheduled: {StatusApproved, StatusRejected},
	StatusApproved:           {StatusDisbursing},
	StatusDisbursing:         {StatusCompleted},
	StatusOnHold:             {StatusUnderReview},
	StatusReturned:           {StatusUnderReview},
}

// targets returns the reachable statuses from cur for a scheme with the
// given interview requirement.
//
// With requiresInterview set, an application cannot be decided straight
// from submission: the direct submitted->approved|rejected edges vanish
// and the interview edges appear. Without it, the interview edges do
// not exist at all.
func targets(cur Status, requiresInterview bool) []Status {
	base := edges[cur]
	out := make([]Status, 0, len(base)+2)
	for _, t := range base {
		switch {
		case t == StatusInterviewScheduled && !requiresInterview:
			continue
		case cur == StatusSubmitted && requiresInterview && (t == StatusApproved || t == StatusRejected):
			continue
		}
		out = append(out, t)
	}
	if !cur.IsTerminal() && cur != StatusOnHold && cur != StatusReturned {
		out = append(out, StatusOnHold, StatusReturned)
	}
	return out
}

// CanTransition reports whether target is reachable from cur.
func CanTransition(cur, target Status, requiresInterview bool) bool {
	for _, t := range targets(cur, requiresInterview) {
		if t == target {
			return true
		}
	}
	return false
}

// transitionPermissions maps each target status to the permission that
// gates entering it.
var transitionPermissions = map[Status]string{
	StatusUnderReview:        authz.PermApplicationsReview,
	StatusFieldVerification:  authz.PermApplicationsVerify,
	StatusInterviewScheduled: authz.PermApplicationsSchedule,
	StatusApproved:           authz.PermApplicationsApprove,
	StatusRejected:           authz.PermApplicationsReject,
	StatusOnHold:             authz.PermApplicationsHold,
	StatusReturned:           authz.PermApplicationsReturn,
	StatusDisbursing:         authz.PermApplicationsDisburse,
	StatusCompleted:          authz.PermApplicationsComplete,
}

// PermissionFor returns the permission key gating a transition into target.
func PermissionFor(target Status) (string, error) {
	key, ok := transitionPermissions[target]
	if !ok {
		return "", fmt.Errorf("%w: no permission gates status %q", ErrInvalidInput, target)
	}
	return key, nil
}
