package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nyumbani/backend/pkg/auth"
)

// PostgresStore implements Store on top of database/sql with lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds connection pool settings
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnTimeout  time.Duration
}

// OpenPostgres opens, configures, and pings a PostgreSQL connection pool.
func OpenPostgres(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.ConnTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing database handle. Used by tests.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const userColumns = "id, email, password_hash, name, role, created_at, updated_at"

// CreateUser inserts a new user. Duplicate emails are reported as
// ErrDuplicateEmail via the unique constraint rather than pre-checked,
// so concurrent registrations cannot race past the check.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`, user.ID, user.Email, user.PasswordHash, user.Name, string(user.Role)).Scan(&user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID fetches a user by primary key
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

// GetUserByEmail fetches a user by their unique email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	user := &User{}
	var role string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &role, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	user.Role = auth.Role(role)
	return user, nil
}

// UpdateUserProfile updates name and email. Role is deliberately not
// reachable through this method.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id, name, email string) (*User, error) {
	user := &User{}
	var role string
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET name = $1, email = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING `+userColumns+`
	`, name, email, id).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &role, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	user.Role = auth.Role(role)
	return user, nil
}

// UpdateUserPassword replaces the stored password hash
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = NOW()
		WHERE id = $2
	`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateUserRole changes a user's role
func (s *PostgresStore) UpdateUserRole(ctx context.Context, id string, role auth.Role) (*User, error) {
	user := &User{}
	var roleStr string
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET role = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+userColumns+`
	`, string(role), id).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &roleStr, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user role: %w", err)
	}
	user.Role = auth.Role(roleStr)
	return user, nil
}

// DeleteUser hard-deletes a user. The applications foreign key is
// declared ON DELETE SET NULL, so submitted applications survive as
// orphans.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireRowsAffected(result)
}

// ListUsers returns a page of users with per-user application counts,
// newest first, plus the total matching count.
func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]*UserWithCount, int, error) {
	filter.Normalize()

	where := ""
	args := []interface{}{}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		where = fmt.Sprintf(" WHERE u.role = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clause := fmt.Sprintf("(u.name ILIKE $%d OR u.email ILIKE $%d)", len(args), len(args))
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM users u" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset())
	query := fmt.Sprintf(`
		SELECT u.id, u.email, u.name, u.role, u.created_at, u.updated_at,
		       (SELECT COUNT(*) FROM applications a WHERE a.user_id = u.id) AS application_count
		FROM users u%s
		ORDER BY u.created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*UserWithCount, 0)
	for rows.Next() {
		u := &UserWithCount{}
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt, &u.UpdatedAt, &u.ApplicationCount); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user row: %w", err)
		}
		u.Role = auth.Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, total, nil
}

const applicationColumns = "id, full_name, email, country, relationship_to_kenya, interest_area, created_at, user_id"

// ListUserApplications returns all applications linked to a user,
// newest first.
func (s *PostgresStore) ListUserApplications(ctx context.Context, userID string) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user applications: %w", err)
	}
	defer rows.Close()

	apps := make([]*Application, 0)
	for rows.Next() {
		app := &Application{}
		if err := rows.Scan(&app.ID, &app.FullName, &app.Email, &app.Country,
			&app.RelationshipToKenya, &app.InterestArea, &app.CreatedAt, &app.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate applications: %w", err)
	}
	return apps, nil
}

// CreateApplication inserts a new application record
func (s *PostgresStore) CreateApplication(ctx context.Context, app *Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (id, full_name, email, country, relationship_to_kenya, interest_area, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`, app.ID, app.FullName, app.Email, app.Country, app.RelationshipToKenya, app.InterestArea, app.UserID).
		Scan(&app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

// GetApplication fetches an application with its submitter summary when
// the application is linked to an account.
func (s *PostgresStore) GetApplication(ctx context.Context, id string) (*Application, error) {
	app := &Application{}
	var userID, userName, userEmail sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.full_name, a.email, a.country, a.relationship_to_kenya, a.interest_area, a.created_at, a.user_id,
		       u.id, u.name, u.email
		FROM applications a
		LEFT JOIN users u ON a.user_id = u.id
		WHERE a.id = $1
	`, id).Scan(&app.ID, &app.FullName, &app.Email, &app.Country, &app.RelationshipToKenya,
		&app.InterestArea, &app.CreatedAt, &app.UserID, &userID, &userName, &userEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch application: %w", err)
	}
	if userID.Valid {
		app.User = &ApplicationUser{ID: userID.String, Name: userName.String, Email: userEmail.String}
	}
	return app, nil
}

// DeleteApplication hard-deletes an application
func (s *PostgresStore) DeleteApplication(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM applications WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", err)
	}
	return requireRowsAffected(result)
}

// ListApplications returns a page of applications with submitter
// summaries, newest first, plus the total matching count.
func (s *PostgresStore) ListApplications(ctx context.Context, filter ApplicationFilter) ([]*Application, int, error) {
	filter.Normalize()

	where := ""
	args := []interface{}{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = fmt.Sprintf(" WHERE (a.full_name ILIKE $%d OR a.email ILIKE $%d OR a.country ILIKE $%d)",
			len(args), len(args), len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM applications a" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count applications: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset())
	query := fmt.Sprintf(`
		SELECT a.id, a.full_name, a.email, a.country, a.relationship_to_kenya, a.interest_area, a.created_at, a.user_id,
		       u.id, u.name, u.email
		FROM applications a
		LEFT JOIN users u ON a.user_id = u.id%s
		ORDER BY a.created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	apps := make([]*Application, 0)
	for rows.Next() {
		app := &Application{}
		var userID, userName, userEmail sql.NullString
		if err := rows.Scan(&app.ID, &app.FullName, &app.Email, &app.Country, &app.RelationshipToKenya,
			&app.InterestArea, &app.CreatedAt, &app.UserID, &userID, &userName, &userEmail); err != nil {
			return nil, 0, fmt.Errorf("failed to scan application row: %w", err)
		}
		if userID.Valid {
			app.User = &ApplicationUser{ID: userID.String, Name: userName.String, Email: userEmail.String}
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate applications: %w", err)
	}

	return apps, total, nil
}

// Stats returns the admin dashboard aggregates in a single round trip
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM applications),
			(SELECT COUNT(*) FROM users WHERE role = 'admin'),
			(SELECT COUNT(*) FROM applications WHERE created_at >= NOW() - INTERVAL '7 days')
	`).Scan(&stats.TotalUsers, &stats.TotalApplications, &stats.AdminUsers, &stats.RecentApplications)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}
	stats.RegularUsers = stats.TotalUsers - stats.AdminUsers
	return stats, nil
}

func requireRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
