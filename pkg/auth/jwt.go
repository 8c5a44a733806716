package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/umutdz/dca/pkg/domain"
)

const (
	// TokenTypeAccess marks short-lived tokens used for API access.
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks long-lived tokens accepted only by the refresh flow.
	TokenTypeRefresh = "refresh"

	defaultAccessTTL = 30 * time.Minute
	refreshTTL       = 30 * 24 * time.Hour
)

var (
	// ErrInvalidToken indicates a token whose signature or claims cannot be verified.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the signed payload carried by access and refresh tokens.
type Claims struct {
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim into the numeric user id.
func (c Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Subject), 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// TokenManager issues and verifies HS256-signed JWTs. Tokens are stateless
// and self-contained; verification needs no server-side session store.
type TokenManager struct {
	secret    []byte
	accessTTL time.Duration
}

// NewTokenManager builds a manager signing with the given secret.
// accessTTL <= 0 falls back to the 30 minute default; refresh tokens always
// use a fixed 30 day expiry independent of accessTTL.
func NewTokenManager(secret string, accessTTL time.Duration) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret required")
	}
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	return &TokenManager{secret: []byte(secret), accessTTL: accessTTL}, nil
}

// CreateAccessToken signs a short-lived access token for the user.
func (m *TokenManager) CreateAccessToken(user domain.User) (string, error) {
	return m.sign(user, TokenTypeAccess, m.accessTTL)
}

// CreateRefreshToken signs a 30-day refresh token for the user.
func (m *TokenManager) CreateRefreshToken(user domain.User) (string, error) {
	return m.sign(user, TokenTypeRefresh, refreshTTL)
}

func (m *TokenManager) sign(user domain.User, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email:     user.Email,
		IsActive:  user.IsActive,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyToken validates signature and expiry and returns the claims.
// Expired tokens fail with ErrTokenExpired, everything else with ErrInvalidToken.
func (m *TokenManager) VerifyToken(token string) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return claims, ErrInvalidToken
	}
	if !parsed.Valid {
		return claims, ErrInvalidToken
	}
	return claims, nil
}

// StripBearer removes a case-insensitive "Bearer " prefix from an
// Authorization header value; bare tokens pass through unchanged.
func StripBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
