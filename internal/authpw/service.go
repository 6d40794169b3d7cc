// Package authpw provides email/password sign-up and sign-in.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"terravest/api/internal/store"
	"terravest/api/internal/util"
)

const minPasswordLength = 8

var (
	ErrInvalidInput       = errors.New("invalid sign-up input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User, profile store.Profile) error
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(userStore UserStore) *Service {
	return &Service{store: userStore, cost: bcrypt.DefaultCost}
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	Interests   []string
}

// ValidationError describes which sign-up field was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// SignUp creates the user and an empty free-tier profile.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	displayName := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || displayName == "" {
		return store.User{}, &ValidationError{Field: "email", Message: "email, password, and display name are required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, &ValidationError{Field: "email", Message: "email address is not valid"}
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return store.User{}, ErrEmailTaken
	case !errors.Is(err, sql.ErrNoRows):
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := store.User{
		ID:           util.NewID(""),
		Email:        email,
		PasswordHash: string(hash),
	}
	profile := store.Profile{
		DisplayName: displayName,
		Tier:        "free",
		Interests:   req.Interests,
	}
	if err := s.store.CreateUser(ctx, user, profile); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	user.PasswordHash = ""
	return user, nil
}

// SignIn checks the password and returns the user. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}
