package authz

import "time"

// ScopeClass classifies how far a permission reaches: the actor's own
// resources, a region and everything beneath it, or everywhere.
type ScopeClass string

const (
	ScopeOwn      ScopeClass = "own"
	ScopeRegional ScopeClass = "regional"
	ScopeAll      ScopeClass = "all"
)

// Valid reports whether the scope class is one of the three known kinds.
func (s ScopeClass) Valid() bool {
	switch s {
	case ScopeOwn, ScopeRegional, ScopeAll:
		return true
	}
	return false
}

// Permission is a capability token. Immutable once referenced by a role.
type Permission struct {
	ID            string     `json:"id"`
	Key           string     `json:"key"`
	Module        string     `json:"module"`
	Scope         ScopeClass `json:"scope"`
	SecurityLevel int        `json:"security_level"`
	Description   string     `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RoleKind separates shipped roles from ones administrators define.
type RoleKind string

const (
	RoleSystem RoleKind = "system"
	RoleCustom RoleKind = "custom"
)

// Role groups permissions under a numeric level. Lower level means more
// authority; a granter may only hand out roles strictly weaker (higher
// level) than their own.
type Role struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Level              int       `json:"level"`
	Kind               RoleKind  `json:"kind"`
	PermissionKeys     []string  `json:"permission_keys"`
	Deletable          bool      `json:"deletable"`
	Modifiable         bool      `json:"modifiable"`
	MaxAssignableUsers int       `json:"max_assignable_users,omitempty"` // 0 = unlimited
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RoleUpdate carries optional role mutations.
type RoleUpdate struct {
	Name               *string
	Level              *int
	PermissionKeys     []string
	MaxAssignableUsers *int
}

// User is a staff account acting on applications.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Binding is a time-bounded assignment of a role to a user, optionally
// scoped to a region, with per-binding grant/restriction overrides layered
// over the role's base permission set. Revocation closes the validity
// window; bindings are never hard-deleted.
type Binding struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	RegionID   string     `json:"region_id,omitempty"` // empty = unscoped (global)
	Primary    bool       `json:"primary"`
	Temporary  bool       `json:"temporary"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"` // nil = open-ended
	Granted    []string   `json:"granted,omitempty"`
	Restricted []string   `json:"restricted,omitempty"`
	AssignedBy string     `json:"assigned_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ActiveAt reports whether now falls inside [ValidFrom, ValidUntil).
func (b Binding) ActiveAt(now time.Time) bool {
	if now.Before(b.ValidFrom) {
		return false
	}
	if b.ValidUntil != nil && !now.Before(*b.ValidUntil) {
		return false
	}
	return true
}

// EffectiveKeys computes (role permissions ∪ granted) \ restricted.
func (b Binding) EffectiveKeys(role Role) map[string]struct{} {
	set := make(map[string]struct{}, len(role.PermissionKeys)+len(b.Granted))
	for _, k := range role.PermissionKeys {
		set[k] = struct{}{}
	}
	for _, k := range b.Granted {
		set[k] = struct{}{}
	}
	for _, k := range b.Restricted {
		delete(set, k)
	}
	return set
}
