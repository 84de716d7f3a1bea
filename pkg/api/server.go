package api

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nyumbani/backend/pkg/auth"
	"github.com/nyumbani/backend/pkg/config"
	"github.com/nyumbani/backend/pkg/httputil"
	"github.com/nyumbani/backend/pkg/middleware"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

// Version reported by the health banner
const Version = "2.0.0"

// Server assembles the router, handlers, and middleware chain.
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	store   store.Store
	metrics *observability.Metrics
	handler http.Handler
}

// NewServer builds the full HTTP surface. The Redis client may be nil,
// which disables rate limiting on the credential endpoints.
func NewServer(cfg *config.Config, logger *logrus.Logger, st store.Store, redisClient *redis.Client, metrics *observability.Metrics) *Server {
	s := &Server{
		config:  cfg,
		logger:  logger,
		store:   st,
		metrics: metrics,
	}

	tokens := auth.NewTokenService(
		cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshSecret, cfg.JWT.RefreshExpiry,
	)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	authMW := middleware.NewAuthMiddleware(tokens, st)

	var limiter *middleware.RateLimiter
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient, middleware.AuthRateLimitConfig(), "ratelimit:auth")
	}

	router := mux.NewRouter()
	router.HandleFunc("/", s.index).Methods("GET")

	development := cfg.IsDevelopment()
	NewAuthHandlers(st, tokens, hasher, metrics, development).RegisterRoutes(router, authMW, limiter)
	NewApplicationHandlers(st, development).RegisterRoutes(router, authMW)
	NewAdminHandlers(st, development).RegisterRoutes(router, authMW)

	router.NotFoundHandler = httputil.NotFoundHandler()
	router.MethodNotAllowedHandler = httputil.NotFoundHandler()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger, development),
		httputil.CORSMiddleware(cfg.FrontendURL),
		metrics.Middleware,
	)(router)

	return s
}

// Handler returns the fully assembled HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// index handles GET /, the service banner
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Nyumbani Backend API",
		"status":   "active",
		"version":  Version,
		"features": []string{"Authentication", "User Management", "Admin Panel", "Applications"},
		"endpoints": map[string]string{
			"health":            "GET /",
			"auth":              "POST /api/auth/*",
			"admin":             "GET /api/admin/*",
			"submitApplication": "POST /applications",
		},
	})
}
