package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/badoux/checkmail"
	"golang.org/x/crypto/bcrypt"

	"pocketexpense/internal/core"
	"pocketexpense/internal/storage"
)

const bcryptCost = 12

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// UserStore is the slice of the record store the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, name, passwordHash string) (storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (storage.User, error)
	GetUserByID(ctx context.Context, id string) (storage.User, error)
}

type Service struct {
	users UserStore
	jwt   *JWTManager
}

func NewService(users UserStore, jwt *JWTManager) *Service {
	return &Service{users: users, jwt: jwt}
}

// Register creates an account and returns a signed access token for it.
func (s *Service) Register(ctx context.Context, email, name, password string) (storage.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := checkmail.ValidateFormat(email); err != nil {
		return storage.User{}, "", fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrInvalidEmail)
	}
	if len(password) < 8 {
		return storage.User{}, "", fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrWeakPassword)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return storage.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, strings.TrimSpace(name), string(hash))
	if err != nil {
		return storage.User{}, "", err
	}

	token, err := s.jwt.GenerateAccessJWT(user.ID)
	if err != nil {
		return storage.User{}, "", fmt.Errorf("generate token: %w", err)
	}

	slog.InfoContext(ctx, "User registered", "user_id", user.ID)
	return user, token, nil
}

// Login verifies credentials and returns a signed access token.
// A missing account and a wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (storage.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return storage.User{}, "", fmt.Errorf("%w: %w", core.ErrUnauthorized, ErrInvalidCredentials)
		}
		return storage.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return storage.User{}, "", fmt.Errorf("%w: %w", core.ErrUnauthorized, ErrInvalidCredentials)
	}

	token, err := s.jwt.GenerateAccessJWT(user.ID)
	if err != nil {
		return storage.User{}, "", fmt.Errorf("generate token: %w", err)
	}

	slog.InfoContext(ctx, "User logged in", "user_id", user.ID)
	return user, token, nil
}

// Authenticate resolves a bearer token to an existing user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown user", core.ErrUnauthorized)
		}
		return "", err
	}
	return userID, nil
}
