package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nyumbani/backend/pkg/auth"
	"github.com/nyumbani/backend/pkg/config"
	"github.com/nyumbani/backend/pkg/httputil"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

// fakeStore is an in-memory Store for handler tests
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*store.User
	apps  map[string]*store.Application
	clock time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]*store.User{},
		apps:  map[string]*store.Application{},
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick hands out strictly increasing timestamps so newest-first ordering
// is deterministic.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) CreateUser(_ context.Context, user *store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := f.tick()
	user.CreatedAt = now
	user.UpdatedAt = now
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, id, name, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, u := range f.users {
		if u.ID != id && u.Email == email {
			return nil, store.ErrDuplicateEmail
		}
	}
	user.Name = name
	user.Email = email
	user.UpdatedAt = f.tick()
	clone := *user
	return &clone, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) UpdateUserRole(_ context.Context, id string, role auth.Role) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Role = role
	user.UpdatedAt = f.tick()
	clone := *user
	return &clone, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	// applications survive the owner with a cleared link
	for _, app := range f.apps {
		if app.UserID != nil && *app.UserID == id {
			app.UserID = nil
		}
	}
	return nil
}

func (f *fakeStore) ListUsers(_ context.Context, filter store.UserFilter) ([]*store.UserWithCount, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	filter.Normalize()

	matched := []*store.UserWithCount{}
	for _, u := range f.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(u.Name), needle) &&
				!strings.Contains(strings.ToLower(u.Email), needle) {
				continue
			}
		}
		count := 0
		for _, app := range f.apps {
			if app.UserID != nil && *app.UserID == u.ID {
				count++
			}
		}
		clone := *u
		matched = append(matched, &store.UserWithCount{User: clone, ApplicationCount: count})
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, filter.Page), total, nil
}

func (f *fakeStore) ListUserApplications(_ context.Context, userID string) ([]*store.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apps := []*store.Application{}
	for _, app := range f.apps {
		if app.UserID != nil && *app.UserID == userID {
			clone := *app
			apps = append(apps, &clone)
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].CreatedAt.After(apps[j].CreatedAt)
	})
	return apps, nil
}

func (f *fakeStore) CreateApplication(_ context.Context, app *store.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	app.CreatedAt = f.tick()
	clone := *app
	f.apps[app.ID] = &clone
	return nil
}

func (f *fakeStore) GetApplication(_ context.Context, id string) (*store.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *app
	f.attachSubmitter(&clone)
	return &clone, nil
}

func (f *fakeStore) DeleteApplication(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.apps, id)
	return nil
}

func (f *fakeStore) ListApplications(_ context.Context, filter store.ApplicationFilter) ([]*store.Application, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	filter.Normalize()

	matched := []*store.Application{}
	for _, app := range f.apps {
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(app.FullName), needle) &&
				!strings.Contains(strings.ToLower(app.Email), needle) &&
				!strings.Contains(strings.ToLower(app.Country), needle) {
				continue
			}
		}
		clone := *app
		f.attachSubmitter(&clone)
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, filter.Page), total, nil
}

func (f *fakeStore) attachSubmitter(app *store.Application) {
	if app.UserID == nil {
		return
	}
	if u, ok := f.users[*app.UserID]; ok {
		app.User = &store.ApplicationUser{ID: u.ID, Name: u.Name, Email: u.Email}
	}
}

func (f *fakeStore) Stats(_ context.Context) (*store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &store.Stats{
		TotalUsers:        len(f.users),
		TotalApplications: len(f.apps),
	}
	for _, u := range f.users {
		if u.Role == auth.RoleAdmin {
			stats.AdminUsers++
		}
	}
	stats.RegularUsers = stats.TotalUsers - stats.AdminUsers
	cutoff := f.clock.Add(-7 * 24 * time.Hour)
	for _, app := range f.apps {
		if app.CreatedAt.After(cutoff) {
			stats.RecentApplications++
		}
	}
	return stats, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func paginate[T any](items []T, page store.Page) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:  "test-access-secret",
			AccessExpiry:  time.Hour,
			RefreshSecret: "test-refresh-secret",
			RefreshExpiry: 2 * time.Hour,
		},
		FrontendURL: "http://localhost:5173",
		Environment: "test",
		LogLevel:    "error",
		BcryptCost:  4,
	}
}

// testServer bundles everything a handler test needs
type testServer struct {
	handler http.Handler
	store   *fakeStore
	tokens  *auth.TokenService
	hasher  *auth.PasswordHasher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fs := newFakeStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv := NewServer(cfg, logger, fs, nil, metrics)

	return &testServer{
		handler: srv.Handler(),
		store:   fs,
		tokens: auth.NewTokenService(
			cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry,
			cfg.JWT.RefreshSecret, cfg.JWT.RefreshExpiry,
		),
		hasher: auth.NewPasswordHasher(cfg.BcryptCost),
	}
}

// seedUser inserts a user directly into the fake store and returns the
// record and a valid access token.
func (ts *testServer) seedUser(t *testing.T, email, name, password string, role auth.Role) (*store.User, string) {
	t.Helper()
	hash, err := ts.hasher.Hash(password)
	require.NoError(t, err)

	user := &store.User{Email: email, PasswordHash: hash, Name: name, Role: role}
	require.NoError(t, ts.store.CreateUser(context.Background(), user))

	token, _, err := ts.tokens.IssueTokenPair(user.ID, user.Email, user.Role)
	require.NoError(t, err)
	return user, token
}

// envelope mirrors the response body for decoding in tests
type envelope struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Data       json.RawMessage       `json:"data"`
	Errors     []httputil.FieldError `json:"errors"`
	Pagination *httputil.Pagination  `json:"pagination"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData(t *testing.T, env envelope, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dest))
}
