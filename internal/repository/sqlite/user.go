package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/stepguide/internal/apperror"
	"github.com/sakif/stepguide/internal/model"
)

const userColumns = `id, email, password_hash, github_id, created_at, updated_at`

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u        model.User
		hash     sql.NullString
		githubID sql.NullInt64
	)
	if err := s.Scan(&u.ID, &u.Email, &hash, &githubID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.PasswordHash = hash.String
	u.GitHubID = githubID.Int64
	return &u, nil
}

func nullGitHubID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// CreateUser inserts a new account. A taken email is a Conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		nullString(user.PasswordHash),
		nullGitHubID(user.GitHubID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users.email") {
			return apperror.Conflict("user", user.Email)
		}
		if isUniqueViolation(err, "users.github_id") {
			return apperror.Conflict("user", fmt.Sprintf("github:%d", user.GitHubID))
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// UpsertGitHubUser resolves a GitHub login to an account, in this order:
//  1. an account already linked to the GitHub id (email refreshed if free)
//  2. an account with the same email, which gets linked
//  3. a new account
//
// On return user holds the stored record.
func (db *DB) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == 0 {
		return apperror.ValidationFailed("githubId", "github id is required")
	}

	existing, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, user.GitHubID))
	switch {
	case err == nil:
		if user.Email != "" && user.Email != existing.Email {
			existing.UpdatedAt = time.Now().UTC()
			_, err := db.q.ExecContext(ctx,
				`UPDATE users SET email = ?, updated_at = ? WHERE id = ?`,
				user.Email, existing.UpdatedAt, existing.ID)
			switch {
			case err == nil:
				existing.Email = user.Email
			case isUniqueViolation(err, "users.email"):
				// Another account owns the new address; keep the old one.
			default:
				return fmt.Errorf("sqlite: updating user %s: %w", existing.ID, err)
			}
		}
		*user = *existing
		return nil
	case err != sql.ErrNoRows:
		return fmt.Errorf("sqlite: looking up user by github_id %d: %w", user.GitHubID, err)
	}

	if user.Email != "" {
		byEmail, err := db.GetUserByEmail(ctx, user.Email)
		if err == nil {
			byEmail.GitHubID = user.GitHubID
			byEmail.UpdatedAt = time.Now().UTC()
			if _, err := db.q.ExecContext(ctx,
				`UPDATE users SET github_id = ?, updated_at = ? WHERE id = ?`,
				byEmail.GitHubID, byEmail.UpdatedAt, byEmail.ID,
			); err != nil {
				return fmt.Errorf("sqlite: linking github account to %s: %w", byEmail.ID, err)
			}
			*user = *byEmail
			return nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
	}

	return db.CreateUser(ctx, user)
}
