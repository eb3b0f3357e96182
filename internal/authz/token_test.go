package authz

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv("SAHAYATA_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-42", []RoleGrant{
		{Role: "District-Officer", Region: "kollam"},
		{Role: "viewer"},
		{Role: "district-officer", Region: "kollam"},
	}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if len(claims.Grants) != 2 {
		t.Fatalf("grants not deduplicated: %v", claims.Grants)
	}
	if !slices.Contains(claims.Grants, RoleGrant{Role: "district-officer", Region: "kollam"}) {
		t.Fatalf("region scope was not preserved: %v", claims.Grants)
	}
	if !slices.Contains(claims.RoleNames(), "viewer") {
		t.Fatalf("role names = %v", claims.RoleNames())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("SAHAYATA_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := ParseAndValidate("not.a.token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
	if _, err := ParseAndValidate(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Admin", "Admin", "viewer"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
}
