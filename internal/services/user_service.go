package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/isdelr/gatekeeper-be/internal/models"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// UserServiceProvider defines the interface for user services.
type UserServiceProvider interface {
	CreateUser(ctx context.Context, in RegisterInput) (models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetAllUsers(ctx context.Context) ([]models.User, error)
	IncrementTokenVersion(ctx context.Context, id string) (models.User, error)
}

// UserService provides business logic for user management.
type UserService struct {
	db        *sql.DB
	cost      int
	dummyHash []byte
	now       func() time.Time
}

// NewUserService creates a new UserService hashing with the given bcrypt cost.
func NewUserService(db *sql.DB, cost int) (*UserService, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	// Compared against when the email is unknown so both paths cost one bcrypt run.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash dummy password: %w", err)
	}
	return &UserService{db: db, cost: cost, dummyHash: dummy, now: time.Now}, nil
}

const userColumns = "id, name, email, password_hash, token_version, created_at, updated_at"

func scanUser(scanner interface{ Scan(...interface{}) error }) (models.User, error) {
	var user models.User
	err := scanner.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.TokenVersion, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

// GetUserByID retrieves a single user by their ID.
func (s *UserService) GetUserByID(ctx context.Context, id string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("failed to query user %s: %w", id, err)
	}
	return user, nil
}

// GetUserByEmail retrieves a single user by their email, including the password hash.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", NormalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("failed to query user by email: %w", err)
	}
	return user, nil
}

// GetAllUsers lists users in registration order.
func (s *UserService) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateUser validates the input, then hashes the password and stores the user.
// Validation failures, including a taken email, are returned as validation.Errors.
func (s *UserService) CreateUser(ctx context.Context, in RegisterInput) (models.User, error) {
	in.Normalize()

	errs := validation.Errors{}
	if err := in.Validate(); err != nil {
		if !errors.As(err, &errs) {
			return models.User{}, err
		}
	}

	if _, ok := errs["email"]; !ok {
		_, err := s.GetUserByEmail(ctx, in.Email)
		switch {
		case err == nil:
			errs["email"] = ErrEmailTaken
		case !errors.Is(err, ErrUserNotFound):
			return models.User{}, err
		}
	}
	if len(errs) > 0 {
		return models.User{}, errs
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := models.User{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.insertUser(ctx, user); err != nil {
		return models.User{}, err
	}

	// Return user without password hash
	user.PasswordHash = ""
	return user, nil
}

func (s *UserService) insertUser(ctx context.Context, user models.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users(id, name, email, password_hash, token_version, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, user.Email, user.PasswordHash, user.TokenVersion, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		// A concurrent registration won the race for the unique index.
		if isUniqueViolation(err) {
			return validation.Errors{"email": ErrEmailTaken}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// AuthenticateUser verifies a user's credentials. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials after one bcrypt comparison.
func (s *UserService) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}

	// Don't send the password hash to the client
	user.PasswordHash = ""
	return user, nil
}

// IncrementTokenVersion invalidates every token issued to the user so far.
func (s *UserService) IncrementTokenVersion(ctx context.Context, id string) (models.User, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET token_version = token_version + 1, updated_at = ? WHERE id = ?", s.now().UTC(), id)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to bump token version: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.User{}, ErrUserNotFound
	}
	return s.GetUserByID(ctx, id)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
