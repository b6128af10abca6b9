package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamletsspeak/812Hamur/pkg/database"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

// ErrEmailTaken is returned by Create when the email already has an account.
var ErrEmailTaken = errors.New("email already registered")

// User is an identity account record. Anonymous accounts carry no email;
// social accounts carry the originating provider and its external ID.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Provider     string
	ExternalID   string
	IsAnonymous  bool
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

// UserRepository is the persistence contract for identity accounts.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetBySocial(ctx context.Context, provider, externalID string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// PostgresUsers implements UserRepository using PostgreSQL.
type PostgresUsers struct {
	pool database.DBTX
}

// NewPostgresUsers creates a PostgreSQL-backed identity account repository.
func NewPostgresUsers(pool database.DBTX) *PostgresUsers {
	return &PostgresUsers{pool: pool}
}

const userColumns = "id, email, password_hash, provider, external_id, is_anonymous, created_at, last_login_at"

// Create inserts a new identity account.
func (r *PostgresUsers) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO identity_users (id, email, password_hash, provider, external_id, is_anonymous, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.Provider,
		u.ExternalID,
		u.IsAnonymous,
		u.CreatedAt,
		u.LastLoginAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account for %s: %w", u.Email, ErrEmailTaken)
		}
		return fmt.Errorf("insert identity user: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its ID.
func (r *PostgresUsers) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM identity_users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// GetByEmail retrieves an account by its email address.
func (r *PostgresUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM identity_users WHERE email = $1 AND NOT is_anonymous`
	return r.scanUser(ctx, query, email)
}

// GetBySocial retrieves an account by its social provider identity.
func (r *PostgresUsers) GetBySocial(ctx context.Context, provider, externalID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM identity_users WHERE provider = $1 AND external_id = $2`
	return r.scanUser(ctx, query, provider, externalID)
}

// UpdatePassword replaces the stored password hash for the account.
func (r *PostgresUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE identity_users SET password_hash = $1 WHERE id = $2`

	ct, err := r.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("identity user %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

// TouchLastLogin records the time of the latest successful sign-in.
func (r *PostgresUsers) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE identity_users SET last_login_at = $1 WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}

	return nil
}

func (r *PostgresUsers) scanUser(ctx context.Context, query string, args ...any) (*User, error) {
	var u User

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Provider,
		&u.ExternalID,
		&u.IsAnonymous,
		&u.CreatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity user: %w", err)
	}

	return &u, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
