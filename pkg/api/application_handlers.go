package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nyumbani/backend/pkg/httputil"
	"github.com/nyumbani/backend/pkg/middleware"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

// ApplicationHandlers handles the public application submission endpoint
type ApplicationHandlers struct {
	store       store.Store
	development bool
}

// NewApplicationHandlers creates a new application handlers instance
func NewApplicationHandlers(st store.Store, development bool) *ApplicationHandlers {
	return &ApplicationHandlers{store: st, development: development}
}

// RegisterRoutes registers the application routes. Submission is public;
// a valid token links the application to the submitter's account.
func (h *ApplicationHandlers) RegisterRoutes(router *mux.Router, authMW *middleware.AuthMiddleware) {
	router.Handle("/applications", authMW.OptionalAuth(http.HandlerFunc(h.submit))).Methods("POST")
}

// submit handles POST /applications
func (h *ApplicationHandlers) submit(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var errs fieldErrors
	validateLength(&errs, "full_name", "Full name", req.FullName, 2, 100)
	validateEmail(&errs, req.Email)
	validateLength(&errs, "country", "Country", req.Country, 2, 100)
	validateLength(&errs, "relationship_to_kenya", "Relationship to Kenya", req.RelationshipToKenya, 2, 500)
	validateLength(&errs, "interest_area", "Interest area", req.InterestArea, 2, 500)
	if len(errs) > 0 {
		httputil.WriteValidationError(w, errs)
		return
	}

	app := &store.Application{
		FullName:            strings.TrimSpace(req.FullName),
		Email:               normalizeEmail(req.Email),
		Country:             strings.TrimSpace(req.Country),
		RelationshipToKenya: strings.TrimSpace(req.RelationshipToKenya),
		InterestArea:        strings.TrimSpace(req.InterestArea),
	}

	// Link to the submitter only when they were authenticated at
	// submission time; the link is never backfilled.
	if user := middleware.UserFromContext(r.Context()); user != nil {
		userID := user.ID
		app.UserID = &userID
	}

	if err := h.store.CreateApplication(r.Context(), app); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to create application")
		httputil.WriteError(w, http.StatusInternalServerError, "An error occurred while processing your application")
		return
	}

	httputil.WriteCreated(w, "Application submitted successfully", map[string]interface{}{
		"id":         app.ID,
		"created_at": app.CreatedAt,
	})
}
