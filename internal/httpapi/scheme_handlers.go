package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sahayata.org/internal/audit"
	"sahayata.org/internal/authz"
	"sahayata.org/internal/scheme"
)

type createSchemeRequest struct {
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	RequiresInterview bool            `json:"requires_interview"`
	Allocated         int64           `json:"allocated"`
	Template          scheme.Template `json:"template"`
}

func (a *API) handleSchemesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.actor(w, r); !ok {
			return
		}
		schemes, err := a.schemes.List(r.Context())
		if err != nil {
			handleSchemeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": schemes})
	case http.MethodPost:
		uid, ok := a.require(w, r, authz.PermSchemesManage, authz.Context{})
		if !ok {
			return
		}
		var req createSchemeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		created, err := a.schemes.Create(r.Context(), req.Code, req.Name, req.RequiresInterview, req.Allocated, req.Template)
		if err != nil {
			handleSchemeError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "scheme.create", map[string]any{
			"scheme_id": created.ID,
			"code":      created.Code,
			"allocated": created.Allocated,
			"by":        uid,
		})
		w.Header().Set("Location", "/v1/schemes/"+created.ID)
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSchemeResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/schemes/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	schemeID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "publish":
			a.publishScheme(w, r, schemeID)
		case "budget":
			a.getSchemeBudget(w, r, schemeID)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.actor(w, r); !ok {
		return
	}
	sch, err := a.schemes.Scheme(r.Context(), schemeID)
	if err != nil {
		handleSchemeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// publishScheme validates the tranche template and opens the budget.
// Publication is the single gate: approvals trust the template after
// this point.
func (a *API) publishScheme(w http.ResponseWriter, r *http.Request, schemeID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	uid, ok := a.require(w, r, authz.PermSchemesManage, authz.Context{})
	if !ok {
		return
	}
	sch, err := a.schemes.Publish(r.Context(), schemeID)
	if err != nil {
		handleSchemeError(w, r, err)
		return
	}
	if _, err := a.ledger.OpenBudget(r.Context(), sch.ID, sch.Allocated); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "scheme.publish", map[string]any{
		"scheme_id": sch.ID,
		"code":      sch.Code,
		"allocated": sch.Allocated,
		"by":        uid,
	})
	writeJSON(w, http.StatusOK, sch)
}

func (a *API) getSchemeBudget(w http.ResponseWriter, r *http.Request, schemeID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.require(w, r, authz.PermSchemesManage, authz.Context{}); !ok {
		return
	}
	budget, err := a.ledger.GetBudget(r.Context(), schemeID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func handleSchemeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheme.ErrInvalidTemplate), errors.Is(err, scheme.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheme.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, scheme.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, scheme.ErrNotPublished):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
