// Package store defines the persistent data model and the PostgreSQL
// implementation behind it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nyumbani/backend/pkg/auth"
)

// Store errors surfaced to handlers for status mapping
var (
	// ErrNotFound indicates the referenced record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail indicates a unique-constraint violation on email
	ErrDuplicateEmail = errors.New("email already in use")
)

// User is an identity record. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         auth.Role `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserWithCount is a user row joined with their application count, used
// by the admin user listing.
type UserWithCount struct {
	User
	ApplicationCount int `json:"application_count"`
}

// ApplicationUser is the submitter summary attached to admin application
// views when the application is linked to an account.
type ApplicationUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Application is a submitted interest record. UserID is set at creation
// when the submitter was authenticated and is never backfilled; it is
// left NULL when the owning user is deleted.
type Application struct {
	ID                  string           `json:"id"`
	FullName            string           `json:"full_name"`
	Email               string           `json:"email"`
	Country             string           `json:"country"`
	RelationshipToKenya string           `json:"relationship_to_kenya"`
	InterestArea        string           `json:"interest_area"`
	CreatedAt           time.Time        `json:"created_at"`
	UserID              *string          `json:"user_id"`
	User                *ApplicationUser `json:"user,omitempty"`
}

// Stats holds the admin dashboard aggregates
type Stats struct {
	TotalUsers         int `json:"totalUsers"`
	TotalApplications  int `json:"totalApplications"`
	AdminUsers         int `json:"adminUsers"`
	RegularUsers       int `json:"regularUsers"`
	RecentApplications int `json:"recentApplications"`
}

// Page holds pagination parameters
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps pagination parameters to sane bounds
func (p *Page) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
}

// Offset returns the row offset for the current page
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// UserFilter selects users for the admin listing
type UserFilter struct {
	Page
	Role   auth.Role // empty means all roles
	Search string    // matches name or email, case-insensitive
}

// ApplicationFilter selects applications for the admin listing
type ApplicationFilter struct {
	Page
	Search string // matches full_name, email, or country, case-insensitive
}

// Store is the persistence contract used by handlers and middleware.
// Implementations must be safe for concurrent use.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUserProfile(ctx context.Context, id, name, email string) (*User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	UpdateUserRole(ctx context.Context, id string, role auth.Role) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, filter UserFilter) ([]*UserWithCount, int, error)
	ListUserApplications(ctx context.Context, userID string) ([]*Application, error)

	CreateApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	DeleteApplication(ctx context.Context, id string) error
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]*Application, int, error)

	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
