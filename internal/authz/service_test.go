package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testService(t *testing.T) (*InMemory, *Service) {
	t.Helper()
	store := NewInMemory()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return store, svc
}

func TestCreateRoleValidatesPermissions(t *testing.T) {
	_, svc := testService(t)
	ctx := context.Background()

	if _, err := svc.CreateRole(ctx, "reviewer", 3, []string{"no.such.permission"}, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	role, err := svc.CreateRole(ctx, "reviewer", 3, []string{PermApplicationsReview, PermApplicationsReview}, 0)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if len(role.PermissionKeys) != 1 {
		t.Fatalf("permission keys not deduplicated: %v", role.PermissionKeys)
	}
	if role.Kind != RoleCustom || !role.Deletable || !role.Modifiable {
		t.Fatalf("custom role flags wrong: %+v", role)
	}
}

func TestSystemRoleImmutable(t *testing.T) {
	_, svc := testService(t)
	ctx := context.Background()

	role, err := svc.EnsureSystemRole(ctx, "state-admin", 1, []string{PermRolesManage})
	if err != nil {
		t.Fatalf("EnsureSystemRole: %v", err)
	}
	// Idempotent.
	again, err := svc.EnsureSystemRole(ctx, "state-admin", 1, []string{PermRolesManage})
	if err != nil || again.ID != role.ID {
		t.Fatalf("EnsureSystemRole second call: %v (%s != %s)", err, again.ID, role.ID)
	}

	name := "renamed"
	if _, err := svc.UpdateRole(ctx, role.ID, RoleUpdate{Name: &name}); !errors.Is(err, ErrImmutable) {
		t.Fatalf("expected ErrImmutable on update, got %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID); !errors.Is(err, ErrImmutable) {
		t.Fatalf("expected ErrImmutable on delete, got %v", err)
	}
}

func TestGrantRefusesSelfEscalation(t *testing.T) {
	store, svc := testService(t)
	ctx := context.Background()
	mustUser(t, store, "granter")
	mustUser(t, store, "grantee")
	mustRole(t, store, "district-admin", 2, PermBindingsManage)
	mustRole(t, store, "peer-admin", 2, PermApplicationsApprove)
	mustRole(t, store, "field-officer", 4, PermApplicationsVerify)
	mustBind(t, store, Binding{UserID: "granter", RoleID: "district-admin", AssignedBy: "root"})

	// Equal level: refused.
	if _, err := svc.Grant(ctx, "granter", GrantRequest{UserID: "grantee", RoleID: "peer-admin"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for equal level, got %v", err)
	}
	// Strictly weaker: allowed.
	b, err := svc.Grant(ctx, "granter", GrantRequest{UserID: "grantee", RoleID: "field-officer", RegionID: "kollam"})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if b.AssignedBy != "granter" || b.RegionID != "kollam" {
		t.Fatalf("unexpected binding: %+v", b)
	}
}

func TestGrantRejectsOverlappingOverrides(t *testing.T) {
	store, svc := testService(t)
	ctx := context.Background()
	mustUser(t, store, "granter")
	mustUser(t, store, "grantee")
	mustRole(t, store, "admin", 1, PermBindingsManage)
	mustRole(t, store, "officer", 4, PermApplicationsVerify)
	mustBind(t, store, Binding{UserID: "granter", RoleID: "admin", AssignedBy: "root"})

	_, err := svc.Grant(ctx, "granter", GrantRequest{
		UserID:     "grantee",
		RoleID:     "officer",
		Granted:    []string{PermApplicationsApprove},
		Restricted: []string{PermApplicationsApprove},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGrantEnforcesMaxHolders(t *testing.T) {
	store, svc := testService(t)
	ctx := context.Background()
	mustUser(t, store, "granter")
	mustUser(t, store, "u1")
	mustUser(t, store, "u2")
	mustRole(t, store, "admin", 1, PermBindingsManage)
	mustBind(t, store, Binding{UserID: "granter", RoleID: "admin", AssignedBy: "root"})

	limited, err := store.CreateRole(ctx, Role{ID: "limited", Name: "limited", Level: 4, Kind: RoleCustom, MaxAssignableUsers: 1, Deletable: true, Modifiable: true})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := svc.Grant(ctx, "granter", GrantRequest{UserID: "u1", RoleID: limited.ID}); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if _, err := svc.Grant(ctx, "granter", GrantRequest{UserID: "u2", RoleID: limited.ID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict at holder cap, got %v", err)
	}
}

func TestRevokePreservesBinding(t *testing.T) {
	store, svc := testService(t)
	ctx := context.Background()
	mustUser(t, store, "granter")
	mustUser(t, store, "grantee")
	mustRole(t, store, "admin", 1, PermBindingsManage)
	mustRole(t, store, "officer", 4, PermApplicationsVerify)
	mustBind(t, store, Binding{UserID: "granter", RoleID: "admin", AssignedBy: "root"})

	b, err := svc.Grant(ctx, "granter", GrantRequest{UserID: "grantee", RoleID: "officer"})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := svc.Revoke(ctx, b.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The binding survives for the audit trail but is no longer active.
	kept, err := store.GetBinding(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBinding after revoke: %v", err)
	}
	if kept.ValidUntil == nil {
		t.Fatal("revoked binding must carry a closed validity window")
	}
	active, err := store.ActiveBindings(ctx, "grantee", time.Now().UTC())
	if err != nil {
		t.Fatalf("ActiveBindings: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("revoked binding still active: %+v", active)
	}
}

func TestPrimaryBindingUniqueness(t *testing.T) {
	store, _ := testService(t)
	ctx := context.Background()
	mustUser(t, store, "officer")
	mustRole(t, store, "officer-role", 4, PermApplicationsVerify)

	if _, err := store.CreateBinding(ctx, Binding{UserID: "officer", RoleID: "officer-role", Primary: true, ValidFrom: time.Now().UTC().Add(-time.Hour), AssignedBy: "root"}); err != nil {
		t.Fatalf("first primary: %v", err)
	}
	_, err := store.CreateBinding(ctx, Binding{UserID: "officer", RoleID: "officer-role", Primary: true, ValidFrom: time.Now().UTC().Add(-time.Hour), AssignedBy: "root"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second primary, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	_, svc := testService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, "Officer@Example.org", "Officer", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.Email != "officer@example.org" {
		t.Fatalf("email not normalized: %s", created.Email)
	}

	user, err := svc.Authenticate(ctx, "officer@example.org", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("unexpected user: %+v", user)
	}
	if _, err := svc.Authenticate(ctx, "officer@example.org", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
