// Package api wires the HTTP handlers for authentication, application
// submission, and the admin panel.
package api

import (
	"github.com/nyumbani/backend/pkg/store"
)

// registerRequest is the POST /api/auth/register payload
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest is the POST /api/auth/login payload
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest is the POST /api/auth/refresh payload
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// updateProfileRequest carries the mutable profile fields. Absent fields
// keep their current value; role is not reachable from here.
type updateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// changePasswordRequest is the PUT /api/auth/change-password payload
type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// applicationRequest is the POST /applications payload. Field names are
// snake_case to match the public form contract.
type applicationRequest struct {
	FullName            string `json:"full_name"`
	Email               string `json:"email"`
	Country             string `json:"country"`
	RelationshipToKenya string `json:"relationship_to_kenya"`
	InterestArea        string `json:"interest_area"`
}

// updateRoleRequest is the PATCH /api/admin/users/{id}/role payload
type updateRoleRequest struct {
	Role string `json:"role"`
}

// authData is the payload returned by register, login, and refresh
type authData struct {
	User         *store.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// profileData wraps the user for profile responses
type profileData struct {
	User *store.User `json:"user"`
}

// userDetail is the admin view of a single user with their applications
type userDetail struct {
	*store.User
	Applications []*store.Application `json:"applications"`
}
