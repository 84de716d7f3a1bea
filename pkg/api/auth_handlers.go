package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nyumbani/backend/pkg/auth"
	"github.com/nyumbani/backend/pkg/httputil"
	"github.com/nyumbani/backend/pkg/middleware"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

// AuthHandlers handles registration, login, token refresh, and the
// profile endpoints.
type AuthHandlers struct {
	store       store.Store
	tokens      *auth.TokenService
	hasher      *auth.PasswordHasher
	metrics     *observability.Metrics
	development bool
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(st store.Store, tokens *auth.TokenService, hasher *auth.PasswordHasher, metrics *observability.Metrics, development bool) *AuthHandlers {
	return &AuthHandlers{
		store:       st,
		tokens:      tokens,
		hasher:      hasher,
		metrics:     metrics,
		development: development,
	}
}

// RegisterRoutes registers authentication routes. The credential
// endpoints sit behind the rate limiter; the profile endpoints require
// a valid token.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, authMW *middleware.AuthMiddleware, limiter *middleware.RateLimiter) {
	router.Handle("/api/auth/register", limiter.Middleware(http.HandlerFunc(h.register))).Methods("POST")
	router.Handle("/api/auth/login", limiter.Middleware(http.HandlerFunc(h.login))).Methods("POST")
	router.HandleFunc("/api/auth/refresh", h.refresh).Methods("POST")
	router.Handle("/api/auth/profile", authMW.RequireAuth(http.HandlerFunc(h.getProfile))).Methods("GET")
	router.Handle("/api/auth/profile", authMW.RequireAuth(http.HandlerFunc(h.updateProfile))).Methods("PUT")
	router.Handle("/api/auth/change-password", authMW.RequireAuth(http.HandlerFunc(h.changePassword))).Methods("PUT")
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var errs fieldErrors
	validateLength(&errs, "name", "Name", req.Name, 2, 100)
	validateEmail(&errs, req.Email)
	validatePassword(&errs, "password", req.Password)
	if len(errs) > 0 {
		httputil.WriteValidationError(w, errs)
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to hash password")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	user := &store.User{
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Role:         auth.RoleUser,
	}

	// Duplicates surface from the unique constraint so concurrent
	// registrations with the same email cannot both succeed.
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			httputil.WriteConflict(w, "Email already in use")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to create user")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	h.metrics.RegistrationsTotal.Inc()
	h.issueTokens(w, r, http.StatusCreated, "User registered successfully", user)
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	// Unknown email and wrong password produce the same response so the
	// endpoint cannot be used to enumerate accounts.
	user, err := h.store.GetUserByEmail(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.metrics.LoginsTotal.WithLabelValues("failure").Inc()
			httputil.WriteUnauthorized(w, "Invalid email or password")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to fetch user for login")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	if !h.hasher.Check(req.Password, user.PasswordHash) {
		h.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		httputil.WriteUnauthorized(w, "Invalid email or password")
		return
	}

	h.metrics.LoginsTotal.WithLabelValues("success").Inc()
	h.issueTokens(w, r, http.StatusOK, "Login successful", user)
}

// refresh handles POST /api/auth/refresh. A successful refresh rotates
// both tokens; the old refresh token should be discarded by the client.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "Refresh token is required")
		return
	}

	claims, err := h.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		h.metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		if errors.Is(err, auth.ErrTokenExpired) {
			httputil.WriteUnauthorized(w, "Refresh token expired. Please log in again.")
			return
		}
		httputil.WriteUnauthorized(w, "Invalid refresh token. Please log in again.")
		return
	}

	// Re-resolve the user so role changes and deletions take effect on
	// the next refresh rather than living until expiry.
	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
			httputil.WriteUnauthorized(w, "User not found. Please log in again.")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to fetch user for refresh")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	h.metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	h.issueTokens(w, r, http.StatusOK, "Token refreshed successfully", user)
}

// getProfile handles GET /api/auth/profile
func (h *AuthHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	httputil.WriteSuccess(w, profileData{User: user})
}

// updateProfile handles PUT /api/auth/profile
func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	current := middleware.UserFromContext(r.Context())

	var req updateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == nil && req.Email == nil {
		httputil.WriteBadRequest(w, "No fields to update")
		return
	}

	name := current.Name
	email := current.Email

	var errs fieldErrors
	if req.Name != nil {
		validateLength(&errs, "name", "Name", *req.Name, 2, 100)
		name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		validateEmail(&errs, *req.Email)
		email = normalizeEmail(*req.Email)
	}
	if len(errs) > 0 {
		httputil.WriteValidationError(w, errs)
		return
	}

	updated, err := h.store.UpdateUserProfile(r.Context(), current.ID, name, email)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			httputil.WriteConflict(w, "Email already in use")
		case errors.Is(err, store.ErrNotFound):
			httputil.WriteNotFound(w, "User not found")
		default:
			observability.FromContext(r.Context()).WithError(err).Error("failed to update profile")
			httputil.WriteInternalError(w, err, h.development)
		}
		return
	}

	updated.PasswordHash = ""
	httputil.WriteSuccessMessage(w, "Profile updated successfully", profileData{User: updated})
}

// changePassword handles PUT /api/auth/change-password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	current := middleware.UserFromContext(r.Context())

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var errs fieldErrors
	if req.CurrentPassword == "" {
		errs.add("currentPassword", "Current password is required")
	}
	validatePassword(&errs, "newPassword", req.NewPassword)
	if len(errs) > 0 {
		httputil.WriteValidationError(w, errs)
		return
	}

	// The context user is sanitized, so re-fetch to compare the hash
	user, err := h.store.GetUserByID(r.Context(), current.ID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to fetch user for password change")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	if !h.hasher.Check(req.CurrentPassword, user.PasswordHash) {
		httputil.WriteUnauthorized(w, "Current password is incorrect")
		return
	}

	hash, err := h.hasher.Hash(req.NewPassword)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to hash new password")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	if err := h.store.UpdateUserPassword(r.Context(), user.ID, hash); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to update password")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	httputil.WriteSuccessMessage(w, "Password changed successfully", nil)
}

// issueTokens mints a token pair for the user and writes the auth
// envelope. The user is sanitized before serialization.
func (h *AuthHandlers) issueTokens(w http.ResponseWriter, r *http.Request, status int, message string, user *store.User) {
	access, refresh, err := h.tokens.IssueTokenPair(user.ID, user.Email, user.Role)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to issue tokens")
		httputil.WriteInternalError(w, err, h.development)
		return
	}

	user.PasswordHash = ""
	httputil.WriteJSON(w, status, httputil.Response{
		Success: true,
		Message: message,
		Data:    authData{User: user, AccessToken: access, RefreshToken: refresh},
	})
}
