package auth

import "strings"

// Role sets for protected operations. There is no hierarchy: each operation
// names every role it admits.
var (
	ReviewerRoles = []Role{RoleSupervisor, RoleAdmin}
	StaffRoles    = []Role{RoleAdmin, RoleSupervisor}
	AdminRoles    = []Role{RoleAdmin}
)

// Authorize returns nil when identity holds one of allowed, ErrForbidden otherwise.
func Authorize(identity Identity, allowed ...Role) error {
	for _, r := range allowed {
		if identity.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

// AuthorizeRegistrant admits admins and the account whose email matches registrantEmail.
func AuthorizeRegistrant(identity Identity, registrantEmail string) error {
	if identity.Role == RoleAdmin {
		return nil
	}
	if IsRegistrant(identity, registrantEmail) {
		return nil
	}
	return ErrForbidden
}

// IsRegistrant reports whether identity submitted under registrantEmail.
func IsRegistrant(identity Identity, registrantEmail string) bool {
	email := strings.TrimSpace(identity.Email)
	return email != "" && strings.EqualFold(email, strings.TrimSpace(registrantEmail))
}
