package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/promptseq/promptseq/pkg/models"
)

// CreateUser inserts a new user. Email collisions return ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, email, hashedPassword string) (*models.User, error) {
	defer s.observe("insert", "users")()

	user := &models.User{Email: email, HashedPassword: hashedPassword, IsActive: true}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO users (email, hashed_password, is_active) VALUES (?, ?, TRUE) RETURNING id`),
		email, hashedPassword,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.observe("select", "users")()

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, email, hashed_password, is_active FROM users WHERE email = ?`),
		email,
	).Scan(&user.ID, &user.Email, &user.HashedPassword, &user.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByID fetches a user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	defer s.observe("select", "users")()

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, email, hashed_password, is_active FROM users WHERE id = ?`),
		id,
	).Scan(&user.ID, &user.Email, &user.HashedPassword, &user.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
