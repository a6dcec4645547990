// Package users resolves recipient ids to deliverable addresses. The
// user records themselves are owned by the wider job-portal backend;
// this package only reads the columns the delivery pipeline needs.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when no user row exists for the id.
var ErrUserNotFound = errors.New("user not found")

// Resolver implements notifications.RecipientResolver against the
// portal's users table.
type Resolver struct {
	db *pgxpool.Pool
}

// NewResolver creates a user resolver.
func NewResolver(db *pgxpool.Pool) *Resolver {
	return &Resolver{db: db}
}

// EmailFor returns the user's email address.
func (r *Resolver) EmailFor(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return "", fmt.Errorf("resolve user email: %w", err)
	}
	return email, nil
}
