package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// User owns holdings, orders and issued contracts. Password hashing happens
// outside the core; the hash is stored opaquely.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// ErrUsernameTaken is returned when the username is already registered.
var ErrUsernameTaken = errors.New("username already taken")

// Create registers a new user.
func Create(ctx context.Context, q marketdb.Queryer, username, passwordHash string) (*User, error) {
	u := &User{Username: username, PasswordHash: passwordHash}
	err := q.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id`,
		username, passwordHash).Scan(&u.ID)
	if err != nil {
		if marketdb.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Get loads a user by id.
func Get(ctx context.Context, q marketdb.Queryer, id int64) (*User, error) {
	u := &User{}
	err := q.QueryRowContext(ctx,
		`SELECT id, username, password_hash FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, marketdb.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
