// Package ledger implements the per-user operations on lines, subitems,
// users and the categories derived from lines. Every mutation is a single
// exclusive store transaction; every read runs under shared access.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"haushalt/internal/core"
	"haushalt/internal/storage"
)

// Repository is safe for concurrent use. The caller is trusted to pass the
// id of an authenticated user.
type Repository struct {
	store *storage.Store
	now   func() time.Time
	newID func() string
}

func New(store *storage.Store) *Repository {
	return &Repository{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// CreateUser registers a user. passwordHash is stored as given.
func (r *Repository) CreateUser(ctx context.Context, username, passwordHash string) (core.User, error) {
	u := core.User{
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
	}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}

	err := r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		if _, taken := doc.UserByUsername(u.Username); taken {
			return fmt.Errorf("%q: %w", u.Username, core.ErrUsernameTaken)
		}
		u.ID = r.newID()
		u.CreatedAt = r.now().Unix()
		doc.Users = append(doc.Users, u)
		return nil
	})
	if err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := r.store.WithShared(ctx, func(doc *storage.Document) error {
		i := doc.UserIndex(id)
		if i < 0 {
			return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		u = doc.Users[i]
		return nil
	})
	return u, err
}

// FindUserByUsername matches the username exactly.
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (core.User, error) {
	var u core.User
	err := r.store.WithShared(ctx, func(doc *storage.Document) error {
		found, ok := doc.UserByUsername(username)
		if !ok {
			return fmt.Errorf("user %q: %w", username, core.ErrNotFound)
		}
		u = found
		return nil
	})
	return u, err
}

func lineNotFound(lineID string) error {
	return fmt.Errorf("line %s: %w", lineID, core.ErrNotFound)
}
