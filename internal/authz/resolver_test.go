package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"sahayata.org/internal/region"
)

func testFixture(t *testing.T) (*InMemory, *region.InMemory, *Resolver) {
	t.Helper()
	ctx := context.Background()

	store := NewInMemory()
	if err := store.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}

	regions := region.NewInMemory()
	tree := []region.Region{
		{ID: "kerala", Code: "KL", Level: region.LevelState},
		{ID: "kollam", Code: "KM", Level: region.LevelDistrict, ParentID: "kerala"},
		{ID: "ernakulam", Code: "EK", Level: region.LevelDistrict, ParentID: "kerala"},
		{ID: "kollam-west", Code: "KMW", Level: region.LevelArea, ParentID: "kollam"},
		{ID: "pettah", Code: "PT", Level: region.LevelUnit, ParentID: "kollam-west"},
	}
	for _, r := range tree {
		if _, err := regions.Create(ctx, r); err != nil {
			t.Fatalf("create region %s: %v", r.ID, err)
		}
	}

	resolver, err := NewResolver(store, regions)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return store, regions, resolver
}

func mustUser(t *testing.T, store *InMemory, id string) User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), User{ID: id, Email: id + "@example.org", Status: UserStatusActive})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func mustRole(t *testing.T, store *InMemory, id string, level int, keys ...string) Role {
	t.Helper()
	r, err := store.CreateRole(context.Background(), Role{ID: id, Name: id, Level: level, Kind: RoleCustom, PermissionKeys: keys, Deletable: true, Modifiable: true})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	return r
}

func mustBind(t *testing.T, store *InMemory, b Binding) Binding {
	t.Helper()
	if b.ValidFrom.IsZero() {
		b.ValidFrom = time.Now().UTC().Add(-time.Hour)
	}
	out, err := store.CreateBinding(context.Background(), b)
	if err != nil {
		t.Fatalf("CreateBinding: %v", err)
	}
	return out
}

func TestResolveScopeCascade(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()
	mustUser(t, store, "officer")
	mustRole(t, store, "approver", 3, PermApplicationsApprove)
	mustBind(t, store, Binding{UserID: "officer", RoleID: "approver", RegionID: "kollam", AssignedBy: "root"})

	// District binding cascades down to the unit.
	dec, err := resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{RegionID: "pettah"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got %+v", dec)
	}

	// Never the reverse: unit binding does not reach the district.
	mustUser(t, store, "clerk")
	mustBind(t, store, Binding{UserID: "clerk", RoleID: "approver", RegionID: "pettah", AssignedBy: "root"})
	dec, err = resolver.Resolve(ctx, "clerk", PermApplicationsApprove, Context{RegionID: "kollam"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonOutOfScope {
		t.Fatalf("expected out_of_scope, got %+v", dec)
	}

	// Sibling district is out of scope.
	dec, err = resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{RegionID: "ernakulam"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonOutOfScope {
		t.Fatalf("expected out_of_scope, got %+v", dec)
	}
}

func TestResolveRestrictionPrecedence(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()
	mustUser(t, store, "officer")
	mustRole(t, store, "approver", 3, PermApplicationsApprove, PermApplicationsReject)
	mustBind(t, store, Binding{
		UserID:     "officer",
		RoleID:     "approver",
		RegionID:   "kollam",
		Restricted: []string{PermApplicationsReject},
		AssignedBy: "root",
	})

	dec, err := resolver.Resolve(ctx, "officer", PermApplicationsReject, Context{RegionID: "kollam"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonNotGranted {
		t.Fatalf("restricted permission must deny not_granted, got %+v", dec)
	}

	// The untouched permission still resolves.
	dec, err = resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{RegionID: "kollam"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got %+v", dec)
	}
}

func TestResolveBindingGrantOverride(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()
	mustUser(t, store, "officer")
	mustRole(t, store, "viewer", 4, PermApplicationsView)
	mustBind(t, store, Binding{
		UserID:     "officer",
		RoleID:     "viewer",
		RegionID:   "kollam",
		Granted:    []string{PermApplicationsApprove},
		AssignedBy: "root",
	})

	dec, err := resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{RegionID: "pettah"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("binding grant should add to role set, got %+v", dec)
	}
}

func TestResolveExpiredBinding(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()
	mustUser(t, store, "officer")
	mustRole(t, store, "approver", 3, PermApplicationsApprove)
	past := time.Now().UTC().Add(-time.Minute)
	mustBind(t, store, Binding{
		UserID:     "officer",
		RoleID:     "approver",
		RegionID:   "kollam",
		ValidFrom:  past.Add(-24 * time.Hour),
		ValidUntil: &past,
		AssignedBy: "root",
	})

	dec, err := resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{RegionID: "kollam"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonNotGranted {
		t.Fatalf("expired binding must not contribute, got %+v", dec)
	}
}

func TestResolveUnscopedBindingWins(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()
	mustUser(t, store, "officer")
	mustRole(t, store, "approver", 3, PermApplicationsApprove)
	// Narrow binding that would deny for Ernakulam...
	mustBind(t, store, Binding{UserID: "officer", RoleID: "approver", RegionID: "kollam", AssignedBy: "root"})
	// ...plus an unscoped one. The union wins.
	mustBind(t, store, Binding{UserID: "officer", RoleID: "approver", AssignedBy: "root"})

	dec, err := resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{RegionID: "ernakulam"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("unscoped binding must take precedence, got %+v", dec)
	}
}

func TestResolveOwnScope(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()
	mustUser(t, store, "beneficiary")
	mustRole(t, store, "applicant", 5, PermApplicationsSubmit)
	mustBind(t, store, Binding{UserID: "beneficiary", RoleID: "applicant", AssignedBy: "root"})

	dec, err := resolver.Resolve(ctx, "beneficiary", PermApplicationsSubmit, Context{ResourceOwnerID: "beneficiary"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("own resource should allow, got %+v", dec)
	}

	dec, err = resolver.Resolve(ctx, "beneficiary", PermApplicationsSubmit, Context{ResourceOwnerID: "someone-else"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonOutOfScope {
		t.Fatalf("foreign resource must deny, got %+v", dec)
	}
}

func TestResolveIntegrityFailures(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()

	// Unknown user is a hard failure, not a denial.
	if _, err := resolver.Resolve(ctx, "ghost", PermApplicationsApprove, Context{}); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for missing user, got %v", err)
	}

	// A binding pointing at a deleted role is corrupt data.
	mustUser(t, store, "officer")
	mustRole(t, store, "approver", 3, PermApplicationsApprove)
	mustBind(t, store, Binding{UserID: "officer", RoleID: "approver", AssignedBy: "root"})
	if err := store.DeleteRole(ctx, "approver"); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, err := resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{}); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for dangling role, got %v", err)
	}
}

func TestResolveNotGranted(t *testing.T) {
	store, _, resolver := testFixture(t)
	ctx := context.Background()
	mustUser(t, store, "officer")

	dec, err := resolver.Resolve(ctx, "officer", PermApplicationsApprove, Context{RegionID: "kollam"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonNotGranted {
		t.Fatalf("expected not_granted, got %+v", dec)
	}
}
