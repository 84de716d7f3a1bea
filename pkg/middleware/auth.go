// Package middleware provides the per-request authentication chain and
// rate limiting for the HTTP API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nyumbani/backend/pkg/auth"
	"github.com/nyumbani/backend/pkg/contextkeys"
	"github.com/nyumbani/backend/pkg/httputil"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

var errMissingHeader = errors.New("missing authorization header")

// UserSource resolves token claims to a live user record. A valid token
// whose user no longer exists must be rejected, so every request
// re-reads the user.
type UserSource interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

// AuthMiddleware implements the required/optional/role-gated policies
// over a single token extraction path.
type AuthMiddleware struct {
	tokens *auth.TokenService
	users  UserSource
}

// NewAuthMiddleware creates the authentication middleware
func NewAuthMiddleware(tokens *auth.TokenService, users UserSource) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// resolveUser extracts the bearer token, verifies it against the access
// context, and resolves the claims to a current user record.
func (m *AuthMiddleware) resolveUser(r *http.Request) (*store.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return nil, errMissingHeader
	}

	claims, err := m.tokens.VerifyAccess(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, err
	}

	user, err := m.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		return nil, err
	}

	// Never carry the password hash into the request context
	sanitized := *user
	sanitized.PasswordHash = ""
	return &sanitized, nil
}

// RequireAuth rejects requests that do not carry a valid token resolving
// to an existing user. The 401 message distinguishes missing header,
// invalid token, expired token, and stale user.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.resolveUser(r)
		if err != nil {
			m.rejectUnauthenticated(w, r, err)
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth binds the user when a valid token is present but lets the
// request proceed anonymously on any failure.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.resolveUser(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route to the given roles. It composes with
// RequireAuth: no bound user yields 401, a bound user with a role
// outside the allowed set yields 403.
func (m *AuthMiddleware) RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	allowed := make(map[auth.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				httputil.WriteUnauthorized(w, "Authentication required.")
				return
			}

			if !allowed[user.Role] {
				httputil.WriteForbidden(w, "You do not have permission to access this resource.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is the role gate specialized to the admin role
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireRole(auth.RoleAdmin)(next)
}

func (m *AuthMiddleware) rejectUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errMissingHeader):
		httputil.WriteUnauthorized(w, "Authentication required. Please provide a valid token.")
	case errors.Is(err, auth.ErrTokenExpired):
		httputil.WriteUnauthorized(w, "Token expired. Please log in again.")
	case errors.Is(err, auth.ErrTokenInvalid):
		httputil.WriteUnauthorized(w, "Invalid token. Please log in again.")
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteUnauthorized(w, "User not found. Please log in again.")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("authentication failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Authentication failed.")
	}
}

// UserFromContext returns the authenticated user bound by RequireAuth or
// OptionalAuth, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *store.User {
	user, ok := ctx.Value(contextkeys.UserKey).(*store.User)
	if !ok {
		return nil
	}
	return user
}
