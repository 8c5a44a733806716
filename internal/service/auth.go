// Package service holds the application logic between the HTTP surface
// and the storage layers.
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/umutdz/dca/pkg/auth"
	"github.com/umutdz/dca/pkg/domain"
	"github.com/umutdz/dca/pkg/repo"
)

// AuthService implements registration, login, and token lifecycle.
type AuthService struct {
	users  *repo.UserRepository
	tokens *auth.TokenManager
}

func NewAuthService(users *repo.UserRepository, tokens *auth.TokenManager) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

// Register creates an account and returns its public projection.
func (s *AuthService) Register(ctx context.Context, email, password string) (domain.PublicUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.PublicUser{}, domain.ErrMissingField
	}
	if !validEmail(email) {
		return domain.PublicUser{}, domain.ErrInvalidInput.WithDescription("invalid email address")
	}
	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return domain.PublicUser{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	if exists {
		return domain.PublicUser{}, domain.ErrUserAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.PublicUser{}, domain.ErrInternalServer.WithDescription(err.Error())
	}
	user, err := s.users.Create(ctx, domain.User{
		Email:    email,
		Password: hash,
		IsActive: true,
	})
	if errors.Is(err, repo.ErrDuplicateKey) {
		// Lost a race with a concurrent registration for the same email.
		return domain.PublicUser{}, domain.ErrUserAlreadyExists
	}
	if err != nil {
		return domain.PublicUser{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	return user.Public(), nil
}

// validEmail accepts bare addresses only. ParseAddress also takes the
// display-name form, so the parsed address must match the input exactly.
func validEmail(email string) bool {
	if strings.ContainsAny(email, " \t") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Login verifies credentials and issues a token pair. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, ok, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return domain.TokenPair{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	if !ok || !auth.CheckPassword(password, user.Password) {
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}
	return s.issuePair(user)
}

// CurrentUser resolves a bearer token to its active account.
func (s *AuthService) CurrentUser(ctx context.Context, authorization string) (domain.User, error) {
	token := auth.StripBearer(authorization)
	if token == "" {
		return domain.User{}, domain.ErrInvalidToken
	}
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return domain.User{}, tokenError(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return domain.User{}, domain.ErrInvalidToken
	}
	user, ok, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	if !ok || !user.IsActive {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. Claims are
// re-read from the current account state, not the old token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	claims, err := s.tokens.VerifyToken(refreshToken)
	if err != nil {
		return domain.TokenPair{}, tokenError(err)
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		return domain.TokenPair{}, domain.ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return domain.TokenPair{}, domain.ErrInvalidToken
	}
	user, ok, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.TokenPair{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	if !ok || !user.IsActive {
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}
	return s.issuePair(user)
}

// ChangePassword verifies the current password before storing a new hash.
func (s *AuthService) ChangePassword(ctx context.Context, user domain.User, currentPassword, newPassword string) error {
	if newPassword == "" {
		return domain.ErrMissingField
	}
	if !auth.CheckPassword(currentPassword, user.Password) {
		return domain.ErrInvalidCredentials
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return domain.ErrInternalServer.WithDescription(err.Error())
	}
	ok, err := s.users.UpdatePassword(ctx, user.ID, hash)
	if err != nil {
		return domain.ErrDatabase.WithDescription(err.Error())
	}
	if !ok {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *AuthService) issuePair(user domain.User) (domain.TokenPair, error) {
	access, err := s.tokens.CreateAccessToken(user)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInternalServer.WithDescription(err.Error())
	}
	refresh, err := s.tokens.CreateRefreshToken(user)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInternalServer.WithDescription(err.Error())
	}
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func tokenError(err error) error {
	if errors.Is(err, auth.ErrTokenExpired) {
		return domain.ErrTokenExpired
	}
	return domain.ErrInvalidToken
}
