package auth

// Role is the enumerated access tier of a user. Using a closed type
// instead of free-form strings keeps typos from silently granting or
// denying access.
type Role string

const (
	// RoleUser is the default role assigned at registration
	RoleUser Role = "user"
	// RoleAdmin grants access to /api/admin routes
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole validates a role string from external input
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}
