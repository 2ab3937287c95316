package auth

import (
	"strings"

	"coverpool/internal/domain/claims"
)

const (
	DefaultAdminRole = "coverpool_admin"
)

// rolePermissions maps a role to the permission prefixes it grants.
var rolePermissions = map[string][]string{
	"claimant":  {claims.PermClaimRead, claims.PermClaimWrite},
	"authority": {claims.PermVerifyRespond},
	"signer":    {claims.PermApprovalRead, claims.PermApprovalWrite},
	"operator":  {claims.PermClaimRead, claims.PermClaimOverride, claims.PermPoolRead},
	"depositor": {claims.PermPoolDeposit, claims.PermPoolRead},
}

type Authorizer struct {
	adminRole string
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{adminRole: DefaultAdminRole}
}

func (a *Authorizer) Require(principal claims.Principal, permission string) error {
	if principal.Subject == "" {
		return claims.ErrUnauthorized
	}
	if permission == "" {
		return nil
	}
	for _, role := range principal.Roles {
		if role == a.adminRole {
			return nil
		}
		for _, granted := range rolePermissions[strings.TrimSpace(role)] {
			if granted == permission {
				return nil
			}
		}
	}
	return claims.ErrUnauthorized
}
