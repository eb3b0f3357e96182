package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sahayata.org/internal/audit"
	"sahayata.org/internal/authz"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.authz.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, authz.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "authentication failed")
		return
	}

	grants, err := a.activeGrants(r, user.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authentication failed")
		return
	}

	token, err := authz.GenerateToken(user.ID, grants, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":    user.ID,
		"email":      user.Email,
		"grants":     grants,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
	})
}

// activeGrants snapshots the caller's active bindings as role/region
// pairs for the token. Informational only: authorization always
// re-reads bindings from the store.
func (a *API) activeGrants(r *http.Request, userID string) ([]authz.RoleGrant, error) {
	bindings, err := a.authz.ListBindings(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var grants []authz.RoleGrant
	for _, b := range bindings {
		if !b.ActiveAt(now) {
			continue
		}
		role, err := a.authz.GetRole(r.Context(), b.RoleID)
		if err != nil {
			continue
		}
		grants = append(grants, authz.RoleGrant{Role: role.Name, Region: b.RegionID})
	}
	return grants, nil
}

type authzCheckRequest struct {
	UserID          string `json:"user_id"`
	Permission      string `json:"permission"`
	RegionID        string `json:"region_id"`
	ResourceOwnerID string `json:"resource_owner_id"`
}

// handleAuthzCheck exposes the resolver for dry-run checks, e.g. to
// hide UI actions the caller would be refused anyway.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		// Default to the caller's own identity.
		uid, ok := a.actor(w, r)
		if !ok {
			return
		}
		userID = uid
	}
	if strings.TrimSpace(req.Permission) == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}

	dec, err := a.resolver.Resolve(r.Context(), userID, req.Permission, authz.Context{
		RegionID:        req.RegionID,
		ResourceOwnerID: req.ResourceOwnerID,
	})
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}
