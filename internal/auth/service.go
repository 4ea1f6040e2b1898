package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// TokenPair is what a successful login or registration returns.
type TokenPair struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *domain.User `json:"user"`
}

// Service registers users and exchanges credentials for tokens.
type Service struct {
	txm store.TxManager
	jwt *JWTService
}

func NewService(txm store.TxManager, jwt *JWTService) *Service {
	return &Service{txm: txm, jwt: jwt}
}

func (s *Service) Register(ctx context.Context, email, name, password string) (*TokenPair, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{Email: email, Name: name, PasswordHash: hash}
	err = s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		return txn.Users().Create(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Auth] Registered user %d (%s)", user.ID, user.Email)
	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	var user *domain.User
	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		var err error
		user, err = txn.Users().GetByEmail(ctx, email)
		return err
	})
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// Refresh exchanges a valid refresh token for a fresh token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		var err error
		user, err = txn.Users().GetByID(ctx, userID)
		return err
	})
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *Service) issue(user *domain.User) (*TokenPair, error) {
	access, expiresAt, err := s.jwt.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, _, err := s.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt, User: user}, nil
}
