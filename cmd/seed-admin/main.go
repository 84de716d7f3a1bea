package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/nyumbani/backend/pkg/auth"
	"github.com/nyumbani/backend/pkg/config"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

func main() {
	email := flag.String("email", "admin@nyumbani.local", "Admin email address")
	name := flag.String("name", "Nyumbani Admin", "Admin display name")
	password := flag.String("password", "ChangeMe123!", "Admin password")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger("error", true).WithError(err).Fatal("invalid configuration")
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.IsDevelopment())

	st, err := store.OpenPostgres(store.PostgresConfig{
		URL:          cfg.Database.URL,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		ConnTimeout:  cfg.Database.ConnTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	normalized := strings.ToLower(strings.TrimSpace(*email))
	logger.WithField("email", normalized).Info("seeding admin user")

	if _, err := st.GetUserByEmail(ctx, normalized); err == nil {
		logger.Info("user with this email already exists, no changes made")
		return
	}

	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	hash, err := hasher.Hash(*password)
	if err != nil {
		logger.WithError(err).Fatal("failed to hash password")
	}

	user := &store.User{
		Email:        normalized,
		PasswordHash: hash,
		Name:         *name,
		Role:         auth.RoleAdmin,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		logger.WithError(err).Fatal("failed to create admin user")
	}

	logger.WithFields(map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  string(user.Role),
	}).Info("admin user created successfully")
}
