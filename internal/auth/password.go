// Package auth registers users and checks their credentials. Hashes are
// bcrypt; the ledger stores them opaquely.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"haushalt/internal/core"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes.
	MaxPasswordLength = 72
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordTooLong    = fmt.Errorf("password must be at most %d bytes", MaxPasswordLength)
)

// UserStore is the part of the ledger repository the authenticator needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (core.User, error)
	FindUserByUsername(ctx context.Context, username string) (core.User, error)
}

// PasswordAuthenticator implements password-based authentication using bcrypt.
type PasswordAuthenticator struct {
	users UserStore
	cost  int
}

// Option configures a PasswordAuthenticator.
type Option func(*PasswordAuthenticator)

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(a *PasswordAuthenticator) { a.cost = cost }
}

func NewPasswordAuthenticator(users UserStore, opts ...Option) *PasswordAuthenticator {
	a := &PasswordAuthenticator{users: users, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ValidateCredential checks the password length limits.
func (a *PasswordAuthenticator) ValidateCredential(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return &core.ValidationError{Field: "password", Err: ErrWeakPassword}
	case len(password) > MaxPasswordLength:
		return &core.ValidationError{Field: "password", Err: ErrPasswordTooLong}
	}
	return nil
}

// Register creates an account. A taken username yields core.ErrUsernameTaken.
func (a *PasswordAuthenticator) Register(ctx context.Context, username, password string) (core.User, error) {
	if strings.TrimSpace(username) == "" {
		return core.User{}, &core.ValidationError{Field: "username", Err: core.ErrEmptyUsername}
	}
	if err := a.ValidateCredential(password); err != nil {
		return core.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := a.users.CreateUser(ctx, username, string(hash))
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate returns the user when username and password match. Unknown
// users and wrong passwords are indistinguishable to the caller.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, username, password string) (core.User, error) {
	u, err := a.users.FindUserByUsername(ctx, username)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return core.User{}, ErrInvalidCredentials
	}
	return u, nil
}
