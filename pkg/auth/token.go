package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors. Callers must be able to distinguish expiry from
// tampering because the two map to different user-facing guidance.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the identity payload embedded in every signed token
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// signingContext is one independent (secret, expiry) pair
type signingContext struct {
	secret []byte
	ttl    time.Duration
}

// TokenService issues and verifies access and refresh tokens. The two
// contexts use disjoint secrets, so a token minted in one context never
// verifies in the other.
type TokenService struct {
	access  signingContext
	refresh signingContext
}

// NewTokenService creates a token service from the two signing contexts
func NewTokenService(accessSecret string, accessTTL time.Duration, refreshSecret string, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		access:  signingContext{secret: []byte(accessSecret), ttl: accessTTL},
		refresh: signingContext{secret: []byte(refreshSecret), ttl: refreshTTL},
	}
}

// IssueTokenPair mints an access and a refresh token for a user record.
// This is the only issuance entry point; claims are derived from the
// stored identity, never supplied by callers.
func (s *TokenService) IssueTokenPair(userID, email string, role Role) (accessToken, refreshToken string, err error) {
	accessToken, err = s.access.issue(userID, email, role)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue access token: %w", err)
	}
	refreshToken, err = s.refresh.issue(userID, email, role)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

// VerifyAccess validates an access token and returns its claims
func (s *TokenService) VerifyAccess(token string) (*Claims, error) {
	return s.access.verify(token)
}

// VerifyRefresh validates a refresh token and returns its claims
func (s *TokenService) VerifyRefresh(token string) (*Claims, error) {
	return s.refresh.verify(token)
}

func (c signingContext) issue(userID, email string, role Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

func (c signingContext) verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId claim", ErrTokenInvalid)
	}
	return claims, nil
}
