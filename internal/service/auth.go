// Package service holds the business rules of the identity API.
//
//	AccountHandler (HTTP) → AccountService → AccountRepository (accounts)
//	                                       ↘ RevocationRepository (logout)
//	                                       ↘ TokenService, PasswordService
//
// Errors come back as apperror values so the handler can map them to
// status codes without knowing the rules.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/auth"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/repository"
)

// Wording shown to users. Login failures never say which half was wrong.
const (
	msgBadCredentials = "Invalid email or password"
	msgEmailTaken     = "An account with this email already exists"
	msgSignInAgain    = "Please sign in again."
)

// AccountService implements register, login, logout and profile updates.
type AccountService struct {
	accounts    repository.AccountRepository
	revocations repository.RevocationRepository
	tokens      *auth.TokenService
	passwords   *auth.PasswordService
	logger      *slog.Logger
}

var _ auth.Authenticator = (*AccountService)(nil)

// NewAccountService wires an AccountService.
func NewAccountService(
	accounts repository.AccountRepository,
	revocations repository.RevocationRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts:    accounts,
		revocations: revocations,
		tokens:      tokens,
		passwords:   passwords,
		logger:      logger,
	}
}

// AuthResult is a signed-in account and its fresh token.
type AuthResult struct {
	Account *model.Account
	Token   string
}

// Register creates an account and signs it in.
func (s *AccountService) Register(ctx context.Context, req api.RegisterRequest) (*AuthResult, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "Name is required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "A valid email is required")
	}
	if err := s.passwords.CheckStrength(req.Password); err != nil {
		return nil, apperror.ValidationFailed("password", "Password "+strings.TrimPrefix(err.Error(), "password "))
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("service/account: hashing password: %w", err)
	}

	account := &model.Account{Email: email, FullName: name, PasswordHash: hash}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{Err: apperror.ErrConflict, Message: msgEmailTaken, Field: "email"}
		}
		return nil, fmt.Errorf("service/account: creating account: %w", err)
	}

	s.logger.Info("account registered", slog.String("user_id", account.ID))
	return s.issue(account)
}

// Login checks credentials and issues a token.
func (s *AccountService) Login(ctx context.Context, req api.LoginRequest) (*AuthResult, error) {
	account, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/account: looking up account: %w", err)
	}

	if err := s.passwords.Verify(account.PasswordHash, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Info("login rejected", slog.String("user_id", account.ID))
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/account: verifying password: %w", err)
	}

	s.logger.Info("account signed in", slog.String("user_id", account.ID))
	return s.issue(account)
}

// Logout revokes the token described by claims.
func (s *AccountService) Logout(ctx context.Context, claims *auth.Claims) error {
	if err := s.revocations.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
		return fmt.Errorf("service/account: revoking token: %w", err)
	}
	s.logger.Info("account signed out", slog.String("user_id", claims.UserID))
	return nil
}

// Authenticate validates token and rejects it if it was logged out.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthorized(msgSignInAgain)
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, fmt.Errorf("service/account: checking revocation: %w", err)
	}
	if revoked {
		return nil, apperror.Unauthorized(msgSignInAgain)
	}
	return claims, nil
}

// Me returns the account of userID.
func (s *AccountService) Me(ctx context.Context, userID string) (*model.Account, error) {
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching account %s: %w", userID, err)
	}
	return account, nil
}

// UpdateProfile applies a partial name/email update.
func (s *AccountService) UpdateProfile(ctx context.Context, userID string, req api.ProfileUpdateRequest) (*model.Account, error) {
	if req.Name == nil && req.Email == nil {
		return nil, apperror.ValidationFailed("", "Nothing to update")
	}

	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching account %s: %w", userID, err)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("name", "Name cannot be empty")
		}
		account.FullName = name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if !strings.Contains(email, "@") {
			return nil, apperror.ValidationFailed("email", "A valid email is required")
		}
		account.Email = email
	}

	if err := s.accounts.UpdateProfile(ctx, account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{Err: apperror.ErrConflict, Message: msgEmailTaken, Field: "email"}
		}
		return nil, fmt.Errorf("service/account: updating account %s: %w", userID, err)
	}

	s.logger.Info("profile updated", slog.String("user_id", userID))
	return account, nil
}

func (s *AccountService) issue(account *model.Account) (*AuthResult, error) {
	token, _, err := s.tokens.Generate(account.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: issuing token for %s: %w", account.ID, err)
	}
	return &AuthResult{Account: account, Token: token}, nil
}
