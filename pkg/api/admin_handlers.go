package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nyumbani/backend/pkg/auth"
	"github.com/nyumbani/backend/pkg/httputil"
	"github.com/nyumbani/backend/pkg/middleware"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

// AdminHandlers handles the admin panel endpoints. Every route requires
// an authenticated admin.
type AdminHandlers struct {
	store       store.Store
	development bool
}

// NewAdminHandlers creates a new admin handlers instance
func NewAdminHandlers(st store.Store, development bool) *AdminHandlers {
	return &AdminHandlers{store: st, development: development}
}

// RegisterRoutes registers admin routes under /api/admin
func (h *AdminHandlers) RegisterRoutes(router *mux.Router, authMW *middleware.AuthMiddleware) {
	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(authMW.RequireAuth, authMW.RequireAdmin)

	admin.HandleFunc("/applications", h.listApplications).Methods("GET")
	admin.HandleFunc("/applications/{id}", h.getApplication).Methods("GET")
	admin.HandleFunc("/applications/{id}", h.deleteApplication).Methods("DELETE")
	admin.HandleFunc("/users", h.listUsers).Methods("GET")
	admin.HandleFunc("/users/{id}", h.getUser).Methods("GET")
	admin.HandleFunc("/users/{id}/role", h.updateUserRole).Methods("PATCH")
	admin.HandleFunc("/users/{id}", h.deleteUser).Methods("DELETE")
	admin.HandleFunc("/stats", h.stats).Methods("GET")
}

// listApplications handles GET /api/admin/applications
func (h *AdminHandlers) listApplications(w http.ResponseWriter, r *http.Request) {
	page, limit := httputil.ParsePageParams(r)
	filter := store.ApplicationFilter{
		Page:   store.Page{Page: page, Limit: limit},
		Search: httputil.ParseQueryString(r, "search", ""),
	}
	filter.Normalize()

	apps, total, err := h.store.ListApplications(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list applications")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch applications")
		return
	}

	httputil.WritePage(w, apps, httputil.NewPagination(filter.Page.Page, filter.Limit, total))
}

// getApplication handles GET /api/admin/applications/{id}
func (h *AdminHandlers) getApplication(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	app, err := h.store.GetApplication(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteNotFound(w, "Application not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to fetch application")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch application")
		return
	}

	httputil.WriteSuccess(w, app)
}

// deleteApplication handles DELETE /api/admin/applications/{id}
func (h *AdminHandlers) deleteApplication(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	if err := h.store.DeleteApplication(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteNotFound(w, "Application not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to delete application")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to delete application")
		return
	}

	httputil.WriteSuccessMessage(w, "Application deleted successfully", nil)
}

// listUsers handles GET /api/admin/users
func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	role := auth.Role(httputil.ParseQueryString(r, "role", ""))
	if role != "" && !role.Valid() {
		httputil.WriteBadRequest(w, `Invalid role. Must be "user" or "admin"`)
		return
	}

	page, limit := httputil.ParsePageParams(r)
	filter := store.UserFilter{
		Page:   store.Page{Page: page, Limit: limit},
		Role:   role,
		Search: httputil.ParseQueryString(r, "search", ""),
	}
	filter.Normalize()

	users, total, err := h.store.ListUsers(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list users")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch users")
		return
	}

	httputil.WritePage(w, users, httputil.NewPagination(filter.Page.Page, filter.Limit, total))
}

// getUser handles GET /api/admin/users/{id}
func (h *AdminHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to fetch user")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}

	apps, err := h.store.ListUserApplications(r.Context(), id)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list user applications")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}

	user.PasswordHash = ""
	httputil.WriteSuccess(w, userDetail{User: user, Applications: apps})
}

// updateUserRole handles PATCH /api/admin/users/{id}/role
func (h *AdminHandlers) updateUserRole(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := auth.Role(req.Role)
	if !role.Valid() {
		httputil.WriteBadRequest(w, `Invalid role. Must be "user" or "admin"`)
		return
	}

	// Admins cannot demote themselves; another admin must do it
	if id == middleware.UserFromContext(r.Context()).ID {
		httputil.WriteForbidden(w, "You cannot change your own role")
		return
	}

	user, err := h.store.UpdateUserRole(r.Context(), id, role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to update user role")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to update user role")
		return
	}

	user.PasswordHash = ""
	httputil.WriteSuccessMessage(w, "User role updated successfully", user)
}

// deleteUser handles DELETE /api/admin/users/{id}
func (h *AdminHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	if id == middleware.UserFromContext(r.Context()).ID {
		httputil.WriteForbidden(w, "You cannot delete your own account")
		return
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to delete user")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	httputil.WriteSuccessMessage(w, "User deleted successfully", nil)
}

// stats handles GET /api/admin/stats
func (h *AdminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to fetch stats")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}

	httputil.WriteSuccess(w, stats)
}
