package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/isdelr/gatekeeper-be/internal/database"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

func newUserService(t *testing.T, db *sql.DB) *UserService {
	t.Helper()
	svc, err := NewUserService(db, bcrypt.MinCost)
	require.NoError(t, err)
	return svc
}

func validRegistration() RegisterInput {
	return RegisterInput{
		Name:                 "A",
		Email:                "a@x.com",
		Password:             "secret123",
		PasswordConfirmation: "secret123",
	}
}
