package engine_test

import (
	"testing"

	"github.com/helix-auth/helix/engine"
	"github.com/helix-auth/helix/storage"
)

func TestScopeResolver_Resolve(t *testing.T) {
	resolver := &engine.ScopeResolver{}
	client := &storage.Client{Scopes: []string{"openid", "profile"}}

	tests := []struct {
		name      string
		requested string
		client    *storage.Client
		want      string
		wantErr   bool
	}{
		{"empty grants client defaults", "", client, "openid profile", false},
		{"allowed subset", "openid", client, "openid", false},
		{"disallowed scope", "openid admin", client, "", true},
		{"unrestricted client", "anything goes", &storage.Client{}, "anything goes", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(tt.requested, tt.client)
			if tt.wantErr {
				requireOAuthError(t, err, engine.ErrorCodeInvalidScope)
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.requested, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

func TestScopeResolver_HasScope(t *testing.T) {
	resolver := &engine.ScopeResolver{}

	if !resolver.HasScope("openid profile email", "profile") {
		t.Error("profile not found in granted scope")
	}
	if resolver.HasScope("openid profile", "pro") {
		t.Error("substring must not match a scope")
	}
	if resolver.HasScope("", "openid") {
		t.Error("empty scope contains nothing")
	}
}

func TestScopeResolver_ClaimsFor(t *testing.T) {
	resolver := &engine.ScopeResolver{}
	user := &storage.User{
		ID:       "u1",
		Username: "alice",
		Claims: map[string]any{
			"name":   "Alice Liddell",
			"email":  "alice@example.com",
			"secret": "not-a-standard-claim",
		},
		Groups: []string{"staff"},
	}

	claims := resolver.ClaimsFor(user, "openid")
	if claims["sub"] != "u1" {
		t.Errorf("sub = %v, want u1", claims["sub"])
	}
	if len(claims) != 1 {
		t.Errorf("openid alone must release only sub, got %v", claims)
	}

	claims = resolver.ClaimsFor(user, "openid profile email")
	if claims["name"] != "Alice Liddell" || claims["email"] != "alice@example.com" {
		t.Errorf("profile/email claims missing: %v", claims)
	}
	if _, ok := claims["secret"]; ok {
		t.Error("non-standard claim released")
	}
	groups, ok := claims["groups"].([]string)
	if !ok || len(groups) != 1 || groups[0] != "staff" {
		t.Errorf("groups = %v, want [staff]", claims["groups"])
	}
}
