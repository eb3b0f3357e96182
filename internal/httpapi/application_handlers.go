package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sahayata.org/internal/audit"
	"sahayata.org/internal/disburse"
	"sahayata.org/internal/region"
	"sahayata.org/internal/scheme"
	"sahayata.org/internal/workflow"
)

type submitApplicationRequest struct {
	BeneficiaryID   string `json:"beneficiary_id"`
	SchemeID        string `json:"scheme_id"`
	RegionID        string `json:"region_id"`
	RequestedAmount int64  `json:"requested_amount"`
}

type interviewPayload struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Location    string    `json:"location"`
}

type transitionRequest struct {
	Target         string            `json:"target"`
	Comment        string            `json:"comment"`
	ApprovedAmount int64             `json:"approved_amount"`
	Interview      *interviewPayload `json:"interview"`
}

type listPaymentsResponse struct {
	Items     []disburse.Payment `json:"items"`
	NextAfter uint64             `json:"next_after"`
	AsOf      time.Time          `json:"as_of"`
}

func (a *API) handleApplicationsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listApplications(w, r)
	case http.MethodPost:
		a.submitApplication(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleApplicationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/applications/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	appID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getApplication(w, r, appID)
	case len(parts) == 2 && parts[1] == "transitions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transitionApplication(w, r, appID)
	case len(parts) == 2 && parts[1] == "interview":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.rescheduleInterview(w, r, appID)
	case len(parts) == 4 && parts[1] == "tranches" && parts[3] == "pay":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.payTranche(w, r, appID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) submitApplication(w http.ResponseWriter, r *http.Request) {
	uid, ok := a.actor(w, r)
	if !ok {
		return
	}
	var req submitApplicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	beneficiary := strings.TrimSpace(req.BeneficiaryID)
	if beneficiary == "" {
		beneficiary = uid
	}

	app, err := a.applications.Submit(r.Context(), workflow.SubmitRequest{
		BeneficiaryID:   beneficiary,
		SchemeID:        req.SchemeID,
		RegionID:        req.RegionID,
		RequestedAmount: req.RequestedAmount,
	})
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "application.submit", map[string]any{
		"application_id": app.ID,
		"number":         app.Number,
		"scheme_id":      app.SchemeID,
		"beneficiary_id": app.BeneficiaryID,
		"amount":         app.RequestedAmount,
	})
	w.Header().Set("Location", "/v1/applications/"+app.ID)
	writeJSON(w, http.StatusCreated, app)
}

func (a *API) getApplication(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.actor(w, r); !ok {
		return
	}
	app, err := a.applications.Get(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) listApplications(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.actor(w, r); !ok {
		return
	}
	apps, err := a.applications.List(r.Context())
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := workflow.ParseStatus(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filtered := apps[:0]
		for _, app := range apps {
			if app.Status == status {
				filtered = append(filtered, app)
			}
		}
		apps = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": apps})
}

func (a *API) transitionApplication(w http.ResponseWriter, r *http.Request, appID string) {
	uid, ok := a.actor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target, err := workflow.ParseStatus(req.Target)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	wreq := workflow.TransitionRequest{
		Comment:        req.Comment,
		ApprovedAmount: req.ApprovedAmount,
	}
	if req.Interview != nil {
		wreq.Interview = &workflow.InterviewRef{
			ScheduledAt: req.Interview.ScheduledAt,
			Location:    req.Interview.Location,
		}
	}

	app, err := a.applications.Transition(r.Context(), appID, target, uid, wreq)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "application.transition", map[string]any{
		"application_id": app.ID,
		"target":         string(target),
		"status":         string(app.Status),
		"by":             uid,
	})
	writeJSON(w, http.StatusOK, app)
}

func (a *API) rescheduleInterview(w http.ResponseWriter, r *http.Request, appID string) {
	uid, ok := a.actor(w, r)
	if !ok {
		return
	}
	var req interviewPayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	app, err := a.applications.RescheduleInterview(r.Context(), appID, uid, workflow.InterviewRef{
		ScheduledAt: req.ScheduledAt,
		Location:    req.Location,
	})
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "application.interview.reschedule", map[string]any{
		"application_id": app.ID,
		"by":             uid,
	})
	writeJSON(w, http.StatusOK, app)
}

func (a *API) payTranche(w http.ResponseWriter, r *http.Request, appID, rawIndex string) {
	uid, ok := a.actor(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil || index < 0 {
		writeError(w, r, http.StatusBadRequest, "tranche index must be a non-negative integer")
		return
	}
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	app, err := a.applications.PayTranche(r.Context(), appID, uid, index, idem)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}

	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	_ = audit.LogEvent(r.Context(), "application.tranche.pay", map[string]any{
		"application_id": app.ID,
		"tranche_index":  index,
		"by":             uid,
	})
	writeJSON(w, http.StatusOK, app)
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.actor(w, r); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next, err := a.ledger.ListPayments(r.Context(), limit, after)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listPaymentsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func handleWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	if denied, ok := workflow.IsDenied(err); ok {
		writeError(w, r, http.StatusForbidden, denied.Error())
		return
	}
	switch {
	case errors.Is(err, workflow.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrBudgetExceeded),
		errors.Is(err, workflow.ErrTranchesUnpaid),
		errors.Is(err, workflow.ErrRescheduleLimit),
		errors.Is(err, scheme.ErrNotPublished):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, workflow.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, region.ErrNotFound), errors.Is(err, scheme.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, disburse.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, disburse.ErrBudgetExhausted), errors.Is(err, disburse.ErrNothingCommitted):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, disburse.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
