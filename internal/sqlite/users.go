package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jdholdren/digest/internal/digest"
)

const userNamespace = "-usr"

func (r Repo) InsertUser(ctx context.Context, usr digest.User) (digest.User, error) {
	const q = `INSERT INTO users (id, email, password_hash, is_admin, created_at)
	VALUES (:id, :email, :password_hash, :is_admin, :created_at);`

	usr.ID = uuid.NewString() + userNamespace
	usr.Email = strings.ToLower(strings.TrimSpace(usr.Email))
	usr.CreatedAt = r.now()
	_, err := r.db.NamedExecContext(ctx, q, usr)
	if sqliteCode(err) == codeConstraintUnique {
		return digest.User{}, fmt.Errorf("user %s: %w", usr.Email, digest.ErrConflict)
	}
	if err != nil {
		return digest.User{}, fmt.Errorf("error inserting user: %s", err)
	}

	return r.User(ctx, usr.ID)
}

func (r Repo) User(ctx context.Context, id string) (digest.User, error) {
	const q = `SELECT * FROM users WHERE id = ?;`

	var usr digest.User
	err := r.db.GetContext(ctx, &usr, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return digest.User{}, digest.ErrUserNotFound
	}
	if err != nil {
		return digest.User{}, fmt.Errorf("error fetching user: %s", err)
	}

	return usr, nil
}

func (r Repo) UserByEmail(ctx context.Context, email string) (digest.User, error) {
	const q = `SELECT * FROM users WHERE email = ?;`

	var usr digest.User
	err := r.db.GetContext(ctx, &usr, q, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return digest.User{}, digest.ErrUserNotFound
	}
	if err != nil {
		return digest.User{}, fmt.Errorf("error fetching user: %s", err)
	}

	return usr, nil
}
