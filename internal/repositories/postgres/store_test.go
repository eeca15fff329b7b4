package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodcourt/api/internal/repositories"
)

func TestMapErrorClassifiesPgErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, conflict: true},
		{name: "deadlock", err: fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), conflict: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "too many connections", err: &pgconn.PgError{Code: "53300"}, unavailable: true},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var repoErr repositories.RepositoryError
			require.ErrorAs(t, mapError("op", tc.err), &repoErr)
			assert.Equal(t, tc.notFound, repoErr.IsNotFound())
			assert.Equal(t, tc.conflict, repoErr.IsConflict())
			assert.Equal(t, tc.unavailable, repoErr.IsUnavailable())
		})
	}
}

func TestMapErrorPassesThrough(t *testing.T) {
	assert.NoError(t, mapError("op", nil))

	serviceErr := errors.New("order is not awaiting payment")
	assert.Same(t, serviceErr, mapError("op", serviceErr))

	assert.ErrorIs(t, mapError("op", context.Canceled), context.Canceled)

	conflict := repositories.NewConflictError("op", "status changed")
	assert.Same(t, conflict, mapError("tx", conflict))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/app?sslmode=disable", migrateURL("postgres://u:p@db:5432/app?sslmode=disable"))
	assert.Equal(t, "pgx5://db/app", migrateURL("postgresql://db/app"))
	assert.Equal(t, "pgx5://db/app", migrateURL("pgx5://db/app"))
}
