package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sahayata.org/internal/obs"
	"sahayata.org/internal/region"
)

// Denial reason codes. "No permission" is a normal outcome, not an error.
const (
	ReasonNotGranted   = "not_granted"
	ReasonOutOfScope   = "out_of_scope"
	ReasonUnauthorized = "unauthorized"
)

// Decision is the resolver's verdict.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allowed is the positive verdict.
var Allowed = Decision{Allowed: true}

// Denied builds a negative verdict with a reason code.
func Denied(reason string) Decision { return Decision{Reason: reason} }

// Context carries the resource coordinates a permission is checked against.
type Context struct {
	RegionID        string
	ResourceOwnerID string
}

// RegionSource supplies ancestor chains for scope checks. Satisfied by
// region.InMemory and the Postgres store.
type RegionSource interface {
	Ancestors(ctx context.Context, id string) ([]region.Region, error)
}

// Resolver computes effective permissions for a user acting on a resource.
// Resolution is read-only: the binding set is snapshot-read once per call
// and no state is mutated, so calls may run fully in parallel.
type Resolver struct {
	store   Store
	regions RegionSource
	now     func() time.Time
}

// NewResolver wires the resolver to its stores.
func NewResolver(store Store, regions RegionSource) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	if regions == nil {
		return nil, errors.New("authz: region source is required")
	}
	return &Resolver{store: store, regions: regions, now: time.Now}, nil
}

// WithClock overrides the time source. Test use only.
func (r *Resolver) WithClock(fn func() time.Time) *Resolver {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Resolve decides whether userID may exercise permKey against rc.
//
// A Denied decision is a normal result. A non-nil error means the data
// itself is broken (missing user, role or region) and must propagate.
func (r *Resolver) Resolve(ctx context.Context, userID, permKey string, rc Context) (Decision, error) {
	userID = strings.TrimSpace(userID)
	permKey = strings.TrimSpace(permKey)
	if userID == "" || permKey == "" {
		return Decision{}, fmt.Errorf("%w: user id and permission key are required", ErrInvalidInput)
	}

	if _, err := r.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, fmt.Errorf("%w: user %s", ErrIntegrity, userID)
		}
		return Decision{}, err
	}

	now := r.now().UTC()
	bindings, err := r.store.ActiveBindings(ctx, userID, now)
	if err != nil {
		return Decision{}, err
	}

	// Bindings whose effective set carries the requested permission.
	var carrying []Binding
	for _, b := range bindings {
		role, err := r.store.GetRole(ctx, b.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Decision{}, fmt.Errorf("%w: role %s referenced by binding %s", ErrIntegrity, b.RoleID, b.ID)
			}
			return Decision{}, err
		}
		if _, ok := b.EffectiveKeys(role)[permKey]; ok {
			carrying = append(carrying, b)
		}
	}
	if len(carrying) == 0 {
		return r.deny(ReasonNotGranted), nil
	}

	perm, err := r.store.PermissionByKey(ctx, permKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, fmt.Errorf("%w: permission %s granted but absent from catalog", ErrIntegrity, permKey)
		}
		return Decision{}, err
	}

	switch perm.Scope {
	case ScopeAll:
		return r.allow(), nil
	case ScopeOwn:
		if rc.ResourceOwnerID != "" && rc.ResourceOwnerID == userID {
			return r.allow(), nil
		}
		return r.deny(ReasonOutOfScope), nil
	case ScopeRegional:
		// An unscoped binding grants everywhere; it wins over narrower
		// regional bindings because the permission set is a union.
		for _, b := range carrying {
			if b.RegionID == "" {
				return r.allow(), nil
			}
		}
		if rc.RegionID == "" {
			return r.deny(ReasonOutOfScope), nil
		}
		chain, err := r.regions.Ancestors(ctx, rc.RegionID)
		if err != nil {
			if errors.Is(err, region.ErrNotFound) {
				return Decision{}, fmt.Errorf("%w: region %s", ErrIntegrity, rc.RegionID)
			}
			return Decision{}, err
		}
		ancestors := make(map[string]struct{}, len(chain))
		for _, reg := range chain {
			ancestors[reg.ID] = struct{}{}
		}
		for _, b := range carrying {
			if _, ok := ancestors[b.RegionID]; ok {
				return r.allow(), nil
			}
		}
		return r.deny(ReasonOutOfScope), nil
	default:
		return Decision{}, fmt.Errorf("%w: permission %s has unknown scope %q", ErrIntegrity, permKey, perm.Scope)
	}
}

func (r *Resolver) allow() Decision {
	obs.ObserveDecision(true, "")
	return Allowed
}

func (r *Resolver) deny(reason string) Decision {
	obs.ObserveDecision(false, reason)
	return Denied(reason)
}
