package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sahayata.org/internal/audit"
	"sahayata.org/internal/authz"
	"sahayata.org/internal/ids"
	"sahayata.org/internal/region"
)

type createRegionRequest struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Level    string `json:"level"`
	ParentID string `json:"parent_id"`
}

func (a *API) handleRegionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.actor(w, r); !ok {
			return
		}
		regions, err := a.regions.ListAll(r.Context())
		if err != nil {
			handleRegionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": regions})
	case http.MethodPost:
		uid, ok := a.require(w, r, authz.PermRegionsManage, authz.Context{})
		if !ok {
			return
		}
		var req createRegionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		level, err := region.ParseLevel(req.Level)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		regionID := strings.TrimSpace(req.ID)
		if regionID == "" {
			regionID = ids.New()
		}
		created, err := a.regions.Create(r.Context(), region.Region{
			ID:       regionID,
			Code:     strings.TrimSpace(req.Code),
			Name:     strings.TrimSpace(req.Name),
			Level:    level,
			ParentID: strings.TrimSpace(req.ParentID),
		})
		if err != nil {
			handleRegionError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "region.create", map[string]any{
			"region_id": created.ID,
			"code":      created.Code,
			"level":     string(created.Level),
			"by":        uid,
		})
		w.Header().Set("Location", "/v1/regions/"+created.ID)
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRegionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/regions/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	regionID := parts[0]

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if _, ok := a.actor(w, r); !ok {
			return
		}
		switch parts[1] {
		case "children":
			children, err := a.regions.Children(r.Context(), regionID)
			if err != nil {
				handleRegionError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": children})
		case "ancestors":
			ancestors, err := a.regions.Ancestors(r.Context(), regionID)
			if err != nil {
				handleRegionError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": ancestors})
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := a.actor(w, r); !ok {
			return
		}
		reg, err := a.regions.Get(r.Context(), regionID)
		if err != nil {
			handleRegionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reg)
	case http.MethodDelete:
		uid, ok := a.require(w, r, authz.PermRegionsManage, authz.Context{})
		if !ok {
			return
		}
		if err := a.regions.Delete(r.Context(), regionID); err != nil {
			handleRegionError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "region.delete", map[string]any{
			"region_id": regionID,
			"by":        uid,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func handleRegionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, region.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, region.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, region.ErrHasChildren):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
