package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyumbani/backend/pkg/auth"
	"github.com/nyumbani/backend/pkg/store"
)

func TestRegister(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, "POST", "/api/auth/register", "", registerRequest{
		Name:     "Alice",
		Email:    "  Alice@Example.COM ",
		Password: "password1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "User registered successfully", env.Message)

	var data authData
	decodeData(t, env, &data)
	assert.Equal(t, "alice@example.com", data.User.Email)
	assert.Equal(t, auth.RoleUser, data.User.Role)
	assert.NotEmpty(t, data.AccessToken)
	assert.NotEmpty(t, data.RefreshToken)

	// the hash must never appear in any response body
	assert.NotContains(t, rec.Body.String(), "password_hash")
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestRegister_ValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, "POST", "/api/auth/register", "", registerRequest{
		Name:     "A",
		Email:    "not-an-email",
		Password: "short",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Validation failed", env.Message)
	require.Len(t, env.Errors, 3)

	fields := map[string]string{}
	for _, fe := range env.Errors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "Name must be between 2 and 100 characters", fields["name"])
	assert.Equal(t, "Must be a valid email address", fields["email"])
	assert.Equal(t, "Password must be at least 8 characters", fields["password"])
}

func TestRegister_PasswordNeedsLetterAndDigit(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, "POST", "/api/auth/register", "", registerRequest{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "passwordonly",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "Password must contain at least one letter and one number", env.Errors[0].Message)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	// a different casing of the same address still conflicts
	rec, env := ts.do(t, "POST", "/api/auth/register", "", registerRequest{
		Name:     "Imposter",
		Email:    "ALICE@example.com",
		Password: "password2",
	})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email already in use", env.Message)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	t.Run("correct credentials", func(t *testing.T) {
		rec, env := ts.do(t, "POST", "/api/auth/login", "", loginRequest{
			Email:    "alice@example.com",
			Password: "password1",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Login successful", env.Message)

		var data authData
		decodeData(t, env, &data)
		assert.NotEmpty(t, data.AccessToken)

		claims, err := ts.tokens.VerifyAccess(data.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", claims.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec, env := ts.do(t, "POST", "/api/auth/login", "", loginRequest{
			Email:    "alice@example.com",
			Password: "wrongpass1",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid email or password", env.Message)
	})

	t.Run("unknown email gets the same message", func(t *testing.T) {
		rec, env := ts.do(t, "POST", "/api/auth/login", "", loginRequest{
			Email:    "nobody@example.com",
			Password: "password1",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid email or password", env.Message)
	})
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	_, refresh, err := ts.tokens.IssueTokenPair(user.ID, user.Email, user.Role)
	require.NoError(t, err)

	rec, env := ts.do(t, "POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: refresh})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Token refreshed successfully", env.Message)

	var data authData
	decodeData(t, env, &data)
	assert.NotEmpty(t, data.AccessToken)
	assert.NotEmpty(t, data.RefreshToken)

	// both returned tokens must verify in their own context
	_, err = ts.tokens.VerifyAccess(data.AccessToken)
	assert.NoError(t, err)
	_, err = ts.tokens.VerifyRefresh(data.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_PicksUpRoleChange(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	_, refresh, err := ts.tokens.IssueTokenPair(user.ID, user.Email, user.Role)
	require.NoError(t, err)

	_, err = ts.store.UpdateUserRole(context.Background(), user.ID, auth.RoleAdmin)
	require.NoError(t, err)

	rec, env := ts.do(t, "POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: refresh})
	require.Equal(t, http.StatusOK, rec.Code)

	var data authData
	decodeData(t, env, &data)
	claims, err := ts.tokens.VerifyAccess(data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestRefresh_Rejections(t *testing.T) {
	ts := newTestServer(t)
	user, access := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	t.Run("missing token", func(t *testing.T) {
		rec, env := ts.do(t, "POST", "/api/auth/refresh", "", refreshRequest{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Refresh token is required", env.Message)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		rec, env := ts.do(t, "POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: access})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid refresh token. Please log in again.", env.Message)
	})

	t.Run("deleted user", func(t *testing.T) {
		_, refresh, err := ts.tokens.IssueTokenPair(user.ID, user.Email, user.Role)
		require.NoError(t, err)
		require.NoError(t, ts.store.DeleteUser(context.Background(), user.ID))

		rec, env := ts.do(t, "POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: refresh})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "User not found. Please log in again.", env.Message)
	})
}

func TestGetProfile(t *testing.T) {
	ts := newTestServer(t)
	user, token := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	rec, env := ts.do(t, "GET", "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data profileData
	decodeData(t, env, &data)
	assert.Equal(t, user.ID, data.User.ID)
	assert.Equal(t, "Alice", data.User.Name)
}

func TestGetProfile_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, "GET", "/api/auth/profile", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required. Please provide a valid token.", env.Message)
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	name := "Alice Wanjiku"
	rec, env := ts.do(t, "PUT", "/api/auth/profile", token, updateProfileRequest{Name: &name})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Profile updated successfully", env.Message)

	var data profileData
	decodeData(t, env, &data)
	assert.Equal(t, "Alice Wanjiku", data.User.Name)
	assert.Equal(t, "alice@example.com", data.User.Email)
}

func TestUpdateProfile_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "bob@example.com", "Bob", "password1", auth.RoleUser)
	_, token := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	email := "bob@example.com"
	rec, env := ts.do(t, "PUT", "/api/auth/profile", token, updateProfileRequest{Email: &email})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email already in use", env.Message)
}

func TestUpdateProfile_NoFields(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	rec, env := ts.do(t, "PUT", "/api/auth/profile", token, updateProfileRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No fields to update", env.Message)
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	rec, env := ts.do(t, "PUT", "/api/auth/change-password", token, changePasswordRequest{
		CurrentPassword: "password1",
		NewPassword:     "newpassword2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Password changed successfully", env.Message)

	// old password no longer works, new one does
	rec, _ = ts.do(t, "POST", "/api/auth/login", "", loginRequest{
		Email: "alice@example.com", Password: "password1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, "POST", "/api/auth/login", "", loginRequest{
		Email: "alice@example.com", Password: "newpassword2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	rec, env := ts.do(t, "PUT", "/api/auth/change-password", token, changePasswordRequest{
		CurrentPassword: "wrongpass1",
		NewPassword:     "newpassword2",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Current password is incorrect", env.Message)
}

func TestChangePassword_WeakNewPassword(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.seedUser(t, "alice@example.com", "Alice", "password1", auth.RoleUser)

	rec, env := ts.do(t, "PUT", "/api/auth/change-password", token, changePasswordRequest{
		CurrentPassword: "password1",
		NewPassword:     "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "newPassword", env.Errors[0].Field)
}

var _ store.Store = (*fakeStore)(nil)
