package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service provides administrative operations over roles, users and
// bindings with input validation layered on top of the Store.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the administrative service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// EnsureBuiltins seeds the shipped permission catalog. Existing entries are
// left untouched; permissions are immutable once referenced.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.EnsurePermissions(ctx, BuiltinPermissions)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreateRole registers a custom role after validating its permission keys
// against the catalog.
func (s *Service) CreateRole(ctx context.Context, name string, level int, permissionKeys []string, maxUsers int) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if level <= 0 {
		return Role{}, fmt.Errorf("%w: role level must be positive", ErrInvalidInput)
	}
	if maxUsers < 0 {
		return Role{}, fmt.Errorf("%w: max assignable users must not be negative", ErrInvalidInput)
	}
	keys, err := s.checkPermissionKeys(ctx, permissionKeys)
	if err != nil {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, Role{
		Name:               name,
		Level:              level,
		Kind:               RoleCustom,
		PermissionKeys:     keys,
		Deletable:          true,
		Modifiable:         true,
		MaxAssignableUsers: maxUsers,
	})
}

// EnsureSystemRole creates a non-deletable, non-modifiable role if a role
// with that name does not exist yet. Used by startup seeding.
func (s *Service) EnsureSystemRole(ctx context.Context, name string, level int, permissionKeys []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return Role{}, err
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	keys, err := s.checkPermissionKeys(ctx, permissionKeys)
	if err != nil {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, Role{
		Name:           name,
		Level:          level,
		Kind:           RoleSystem,
		PermissionKeys: keys,
		Deletable:      false,
		Modifiable:     false,
	})
}

// GetRole looks up a role.
func (s *Service) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

// ListRoles lists all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// UpdateRole mutates a role. System roles are immutable.
func (s *Service) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if !role.Modifiable {
		return Role{}, fmt.Errorf("%w: role %s", ErrImmutable, role.Name)
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	if upd.Level != nil && *upd.Level <= 0 {
		return Role{}, fmt.Errorf("%w: role level must be positive", ErrInvalidInput)
	}
	if upd.PermissionKeys != nil {
		keys, err := s.checkPermissionKeys(ctx, upd.PermissionKeys)
		if err != nil {
			return Role{}, err
		}
		upd.PermissionKeys = keys
	}
	return s.store.UpdateRole(ctx, roleID, upd)
}

// DeleteRole removes a custom role. System roles are non-deletable, and a
// role still held by active bindings cannot be removed.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if !role.Deletable {
		return fmt.Errorf("%w: role %s", ErrImmutable, role.Name)
	}
	held, err := s.store.CountActiveBindings(ctx, roleID, s.now().UTC())
	if err != nil {
		return err
	}
	if held > 0 {
		return fmt.Errorf("%w: role %s is held by %d active bindings", ErrConflict, role.Name, held)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// CreateUser registers a staff account with a hashed password.
func (s *Service) CreateUser(ctx context.Context, email, name, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Status:       UserStatusActive,
	})
}

// Authenticate verifies staff credentials and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, ErrUnauthorized
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	if user.Status != UserStatusActive {
		return User{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrUnauthorized
	}
	return user, nil
}

// GrantRequest describes a binding to be created.
type GrantRequest struct {
	UserID     string
	RoleID     string
	RegionID   string
	Primary    bool
	Temporary  bool
	ValidFrom  time.Time
	ValidUntil *time.Time
	Granted    []string
	Restricted []string
}

// Grant creates a binding on behalf of granterID. The role being handed
// out must be strictly weaker (numerically higher level) than the
// granter's own strongest role, so nobody can escalate to their own tier.
func (s *Service) Grant(ctx context.Context, granterID string, req GrantRequest) (Binding, error) {
	granterID = strings.TrimSpace(granterID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.RoleID = strings.TrimSpace(req.RoleID)
	if granterID == "" || req.UserID == "" || req.RoleID == "" {
		return Binding{}, fmt.Errorf("%w: granter, user and role ids are required", ErrInvalidInput)
	}
	if overlap := intersect(req.Granted, req.Restricted); len(overlap) > 0 {
		return Binding{}, fmt.Errorf("%w: permissions %v both granted and restricted", ErrInvalidInput, overlap)
	}
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		return Binding{}, err
	}
	role, err := s.store.GetRole(ctx, req.RoleID)
	if err != nil {
		return Binding{}, err
	}

	granterLevel, err := s.effectiveLevel(ctx, granterID)
	if err != nil {
		return Binding{}, err
	}
	if role.Level <= granterLevel {
		return Binding{}, fmt.Errorf("%w: cannot grant role at level %d from level %d", ErrUnauthorized, role.Level, granterLevel)
	}

	now := s.now().UTC()
	if role.MaxAssignableUsers > 0 {
		held, err := s.store.CountActiveBindings(ctx, role.ID, now)
		if err != nil {
			return Binding{}, err
		}
		if held >= role.MaxAssignableUsers {
			return Binding{}, fmt.Errorf("%w: role %s is limited to %d holders", ErrConflict, role.Name, role.MaxAssignableUsers)
		}
	}

	if req.Primary {
		existing, err := s.store.ListBindings(ctx, req.UserID)
		if err != nil {
			return Binding{}, err
		}
		for _, b := range existing {
			if b.Primary && b.ActiveAt(now) {
				return Binding{}, fmt.Errorf("%w: user already has a primary binding", ErrConflict)
			}
		}
	}

	validFrom := req.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	if req.ValidUntil != nil && !req.ValidUntil.After(validFrom) {
		return Binding{}, fmt.Errorf("%w: valid_until must be after valid_from", ErrInvalidInput)
	}

	for _, key := range append(append([]string(nil), req.Granted...), req.Restricted...) {
		if _, err := s.store.PermissionByKey(ctx, key); err != nil {
			return Binding{}, fmt.Errorf("%w: override permission %s", ErrNotFound, key)
		}
	}

	return s.store.CreateBinding(ctx, Binding{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		RegionID:   strings.TrimSpace(req.RegionID),
		Primary:    req.Primary,
		Temporary:  req.Temporary,
		ValidFrom:  validFrom,
		ValidUntil: req.ValidUntil,
		Granted:    dedupeKeys(req.Granted),
		Restricted: dedupeKeys(req.Restricted),
		AssignedBy: granterID,
	})
}

// Revoke soft-deactivates a binding, preserving it for the audit trail.
func (s *Service) Revoke(ctx context.Context, bindingID string) error {
	bindingID = strings.TrimSpace(bindingID)
	if bindingID == "" {
		return fmt.Errorf("%w: binding_id is required", ErrInvalidInput)
	}
	return s.store.DeactivateBinding(ctx, bindingID, s.now().UTC())
}

// ListBindings returns all bindings of a user, active or not.
func (s *Service) ListBindings(ctx context.Context, userID string) ([]Binding, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListBindings(ctx, userID)
}

// effectiveLevel is the strongest (lowest) level across the granter's
// active bindings.
func (s *Service) effectiveLevel(ctx context.Context, userID string) (int, error) {
	bindings, err := s.store.ActiveBindings(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(bindings) == 0 {
		return 0, fmt.Errorf("%w: granter %s holds no active role", ErrUnauthorized, userID)
	}
	best := 0
	for i, b := range bindings {
		role, err := s.store.GetRole(ctx, b.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return 0, fmt.Errorf("%w: role %s referenced by binding %s", ErrIntegrity, b.RoleID, b.ID)
			}
			return 0, err
		}
		if i == 0 || role.Level < best {
			best = role.Level
		}
	}
	return best, nil
}

func (s *Service) checkPermissionKeys(ctx context.Context, keys []string) ([]string, error) {
	deduped := dedupeKeys(keys)
	for _, key := range deduped {
		if _, err := s.store.PermissionByKey(ctx, key); err != nil {
			return nil, fmt.Errorf("%w: permission %s", ErrNotFound, key)
		}
	}
	return deduped, nil
}

func dedupeKeys(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[strings.TrimSpace(v)] = struct{}{}
	}
	var out []string
	for _, v := range b {
		if _, ok := set[strings.TrimSpace(v)]; ok {
			out = append(out, v)
		}
	}
	return out
}
