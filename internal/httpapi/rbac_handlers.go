package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sahayata.org/internal/audit"
	"sahayata.org/internal/authz"
)

type createRoleRequest struct {
	Name               string   `json:"name"`
	Level              int      `json:"level"`
	PermissionKeys     []string `json:"permission_keys"`
	MaxAssignableUsers int      `json:"max_assignable_users"`
}

type updateRoleRequest struct {
	Name               *string  `json:"name"`
	Level              *int     `json:"level"`
	PermissionKeys     []string `json:"permission_keys"`
	MaxAssignableUsers *int     `json:"max_assignable_users"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type grantRequest struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	RegionID   string     `json:"region_id"`
	Primary    bool       `json:"primary"`
	Temporary  bool       `json:"temporary"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
	Granted    []string   `json:"granted"`
	Restricted []string   `json:"restricted"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.actor(w, r); !ok {
		return
	}
	perms, err := a.authz.ListPermissions(r.Context())
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.actor(w, r); !ok {
			return
		}
		roles, err := a.authz.ListRoles(r.Context())
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		uid, ok := a.require(w, r, authz.PermRolesManage, authz.Context{})
		if !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.authz.CreateRole(r.Context(), req.Name, req.Level, req.PermissionKeys, req.MaxAssignableUsers)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
			"level":   role.Level,
			"by":      uid,
		})
		w.Header().Set("Location", "/v1/roles/"+role.ID)
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := a.actor(w, r); !ok {
			return
		}
		role, err := a.authz.GetRole(r.Context(), roleID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch:
		uid, ok := a.require(w, r, authz.PermRolesManage, authz.Context{})
		if !ok {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.authz.UpdateRole(r.Context(), roleID, authz.RoleUpdate{
			Name:               req.Name,
			Level:              req.Level,
			PermissionKeys:     req.PermissionKeys,
			MaxAssignableUsers: req.MaxAssignableUsers,
		})
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.update", map[string]any{
			"role_id": role.ID,
			"by":      uid,
		})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		uid, ok := a.require(w, r, authz.PermRolesManage, authz.Context{})
		if !ok {
			return
		}
		if err := a.authz.DeleteRole(r.Context(), roleID); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{
			"role_id": roleID,
			"by":      uid,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	uid, ok := a.require(w, r, authz.PermUsersManage, authz.Context{})
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.authz.CreateUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.create", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"by":      uid,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "bindings" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.require(w, r, authz.PermBindingsManage, authz.Context{}); !ok {
		return
	}
	bindings, err := a.authz.ListBindings(r.Context(), parts[0])
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": bindings})
}

func (a *API) handleBindingsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	uid, ok := a.require(w, r, authz.PermBindingsManage, authz.Context{})
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant := authz.GrantRequest{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		RegionID:   req.RegionID,
		Primary:    req.Primary,
		Temporary:  req.Temporary,
		ValidUntil: req.ValidUntil,
		Granted:    req.Granted,
		Restricted: req.Restricted,
	}
	if req.ValidFrom != nil {
		grant.ValidFrom = *req.ValidFrom
	}
	binding, err := a.authz.Grant(r.Context(), uid, grant)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.binding.grant", map[string]any{
		"binding_id": binding.ID,
		"user_id":    binding.UserID,
		"role_id":    binding.RoleID,
		"region_id":  binding.RegionID,
		"by":         uid,
	})
	writeJSON(w, http.StatusCreated, binding)
}

func (a *API) handleBindingResource(w http.ResponseWriter, r *http.Request) {
	bindingID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/bindings/"), "/")
	if bindingID == "" || strings.Contains(bindingID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	uid, ok := a.require(w, r, authz.PermBindingsManage, authz.Context{})
	if !ok {
		return
	}
	if err := a.authz.Revoke(r.Context(), bindingID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.binding.revoke", map[string]any{
		"binding_id": bindingID,
		"by":         uid,
	})
	w.WriteHeader(http.StatusNoContent)
}

func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrImmutable), errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, authz.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, authz.ErrIntegrity):
		writeError(w, r, http.StatusInternalServerError, "authorization data is inconsistent")
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
