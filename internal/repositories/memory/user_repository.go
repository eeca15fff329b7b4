package memory

import (
	"context"
	"strings"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/repositories"
)

// UserRepository stores identity records keyed by id.
type UserRepository struct {
	store *Store
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	var (
		user domain.User
		ok   bool
	)
	r.store.locked(ctx, func() {
		for _, candidate := range r.store.users {
			if candidate.Username == username {
				user, ok = candidate, true
				return
			}
		}
	})
	if !ok || username == "" {
		return domain.User{}, repositories.NewNotFoundError("memory.users.find_by_username", "user %s not found", username)
	}
	return cloneUser(user), nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	var (
		user domain.User
		ok   bool
	)
	r.store.locked(ctx, func() {
		user, ok = r.store.users[userID]
	})
	if !ok {
		return domain.User{}, repositories.NewNotFoundError("memory.users.get", "user %s not found", userID)
	}
	return cloneUser(user), nil
}

func (r *UserRepository) Upsert(ctx context.Context, user domain.User) error {
	id := strings.TrimSpace(user.ID)
	if id == "" {
		return repositories.NewConflictError("memory.users.upsert", "user id is required")
	}
	user.ID = id
	r.store.locked(ctx, func() {
		r.store.users[id] = cloneUser(user)
	})
	return nil
}

func cloneUser(user domain.User) domain.User {
	if user.Roles != nil {
		user.Roles = append([]domain.Role(nil), user.Roles...)
	}
	return user
}
