package engine

import (
	"strings"

	"github.com/helix-auth/helix/storage"
)

// Standard OpenID Connect scope values understood by the resolver.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// profileClaimNames are the user claims released under the profile scope.
var profileClaimNames = []string{
	"name", "given_name", "family_name", "middle_name", "nickname",
	"preferred_username", "picture", "website", "gender", "birthdate",
	"zoneinfo", "locale", "updated_at",
}

// emailClaimNames are the user claims released under the email scope.
var emailClaimNames = []string{"email", "email_verified"}

// ScopeResolver expands requested scope strings against a client's allowed
// scopes and maps granted scopes onto user claim subsets.
type ScopeResolver struct{}

// Resolve validates the requested scope against the client's allowed scopes
// and returns the granted scope string. An empty request grants the client's
// defaults; a client registered with no scopes places no restriction.
func (r *ScopeResolver) Resolve(requested string, client *storage.Client) (string, error) {
	if requested == "" {
		return strings.Join(client.Scopes, " "), nil
	}

	if len(client.Scopes) == 0 {
		return requested, nil
	}

	for _, scope := range strings.Fields(requested) {
		found := false
		for _, allowed := range client.Scopes {
			if scope == allowed {
				found = true
				break
			}
		}
		if !found {
			// Generic on purpose: naming the offending scope would let a
			// client enumerate another client's registration.
			return "", ErrInvalidScope("client is not authorized for one or more requested scopes")
		}
	}
	return requested, nil
}

// HasScope reports whether a space-separated scope string contains the value.
func (r *ScopeResolver) HasScope(scope, value string) bool {
	for _, s := range strings.Fields(scope) {
		if s == value {
			return true
		}
	}
	return false
}

// ClaimsFor returns the subset of the user's claims released by the granted
// scope. The subject is always included; profile and email claims, along with
// group and role memberships, are gated behind their scopes.
func (r *ScopeResolver) ClaimsFor(user *storage.User, scope string) map[string]any {
	claims := map[string]any{"sub": user.ID}

	if r.HasScope(scope, ScopeProfile) {
		claims["username"] = user.Username
		for _, name := range profileClaimNames {
			if v, ok := user.Claims[name]; ok {
				claims[name] = v
			}
		}
		if len(user.Groups) > 0 {
			claims["groups"] = user.Groups
		}
		if len(user.Roles) > 0 {
			claims["roles"] = user.Roles
		}
	}

	if r.HasScope(scope, ScopeEmail) {
		for _, name := range emailClaimNames {
			if v, ok := user.Claims[name]; ok {
				claims[name] = v
			}
		}
	}

	return claims
}
