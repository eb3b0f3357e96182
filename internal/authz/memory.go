package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sahayata.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and single-node deployments without Postgres.
type InMemory struct {
	mu       sync.RWMutex
	perms    map[string]Permission // by key
	roles    map[string]Role
	users    map[string]User
	bindings map[string]Binding
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		perms:    make(map[string]Permission),
		roles:    make(map[string]Role),
		users:    make(map[string]User),
		bindings: make(map[string]Binding),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) EnsurePermissions(ctx context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if p.Key == "" || !p.Scope.Valid() {
			return fmt.Errorf("%w: permission %q", ErrInvalidInput, p.Key)
		}
		if _, exists := s.perms[p.Key]; exists {
			continue // immutable once present
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		s.perms[p.Key] = p
	}
	return nil
}

func (s *InMemory) PermissionByKey(ctx context.Context, key string) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[key]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, key)
	}
	return p, nil
}

func (s *InMemory) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *InMemory) CreateRole(ctx context.Context, role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if strings.EqualFold(existing.Name, role.Name) {
			return Role{}, fmt.Errorf("%w: role %s", ErrConflict, role.Name)
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	s.roles[role.ID] = role
	return role, nil
}

func (s *InMemory) GetRole(ctx context.Context, id string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return role, nil
}

func (s *InMemory) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.Level != nil {
		role.Level = *upd.Level
	}
	if upd.PermissionKeys != nil {
		role.PermissionKeys = append([]string(nil), upd.PermissionKeys...)
	}
	if upd.MaxAssignableUsers != nil {
		role.MaxAssignableUsers = *upd.MaxAssignableUsers
	}
	role.UpdatedAt = time.Now().UTC()
	s.roles[id] = role
	return role, nil
}

func (s *InMemory) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	delete(s.roles, id)
	return nil
}

func (s *InMemory) CreateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return User{}, fmt.Errorf("%w: email %s", ErrConflict, u.Email)
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (s *InMemory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
}

func (s *InMemory) CreateBinding(ctx context.Context, b Binding) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = ids.New()
	}
	if b.Primary {
		for _, other := range s.bindings {
			if other.UserID == b.UserID && other.Primary && other.ActiveAt(time.Now().UTC()) {
				return Binding{}, fmt.Errorf("%w: user %s already has a primary binding", ErrConflict, b.UserID)
			}
		}
	}
	b.CreatedAt = time.Now().UTC()
	s.bindings[b.ID] = b
	return b, nil
}

func (s *InMemory) GetBinding(ctx context.Context, id string) (Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[id]
	if !ok {
		return Binding{}, fmt.Errorf("%w: binding %s", ErrNotFound, id)
	}
	return b, nil
}

func (s *InMemory) ListBindings(ctx context.Context, userID string) ([]Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Binding
	for _, b := range s.bindings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ActiveBindings(ctx context.Context, userID string, at time.Time) ([]Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Binding
	for _, b := range s.bindings {
		if b.UserID == userID && b.ActiveAt(at) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) CountActiveBindings(ctx context.Context, roleID string, at time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, b := range s.bindings {
		if b.RoleID == roleID && b.ActiveAt(at) {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) DeactivateBinding(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[id]
	if !ok {
		return fmt.Errorf("%w: binding %s", ErrNotFound, id)
	}
	until := at
	b.ValidUntil = &until
	s.bindings[id] = b
	return nil
}
