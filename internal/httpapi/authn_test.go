package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "plain", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "case insensitive scheme", header: "bearer abc", want: "abc"},
		{name: "padded", header: "  Bearer   tok  ", want: "tok"},
		{name: "empty", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic dXNlcg==", wantErr: true},
		{name: "scheme only", header: "Bearer ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	public := []string{"/healthz", "/readyz", "/metrics", "/v1/auth/login", "/"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Errorf("expected %s to be public", p)
		}
	}
	private := []string{"/v1/applications", "/v1/roles", "/v1/stream", "/v1/authz/check"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}
