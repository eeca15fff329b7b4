package firestore

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/foodcourt/api/internal/domain"
	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/repositories"
)

// UserRepository stores identity records keyed by the auth uid.
type UserRepository struct {
	docs *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, repositories.NewNotFoundError("firestore.users.find_by_username", "username is required")
	}
	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("username", "==", username).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, repositories.NewNotFoundError("firestore.users.find_by_username", "user %s not found", username)
	}
	return toDomainUser(docs[0].ID, docs[0].Data), nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, repositories.NewNotFoundError("firestore.users.get", "user id is required")
	}
	doc, err := r.docs.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc.ID, doc.Data), nil
}

func (r *UserRepository) Upsert(ctx context.Context, user domain.User) error {
	id := strings.TrimSpace(user.ID)
	if id == "" {
		return repositories.NewConflictError("firestore.users.upsert", "user id is required")
	}
	doc := userDocument{Username: strings.TrimSpace(user.Username), Email: strings.TrimSpace(user.Email)}
	for _, role := range user.Roles {
		doc.Roles = append(doc.Roles, string(role))
	}
	return r.docs.Set(ctx, id, doc)
}

func toDomainUser(id string, doc userDocument) domain.User {
	user := domain.User{ID: id, Username: doc.Username, Email: doc.Email}
	for _, role := range doc.Roles {
		user.Roles = append(user.Roles, domain.Role(role))
	}
	return user
}
