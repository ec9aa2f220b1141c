// SPDX-License-Identifier: LGPL-3.0-or-later

package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/sage/internal/hoststore"
)

// UserStore implements hoststore.UserRepository.
type UserStore struct {
	db *pgxpool.Pool
}

// FetchUser implements hoststore.UserRepository.
func (u *UserStore) FetchUser(ctx context.Context, id uuid.UUID) (*hoststore.User, error) {
	query := `SELECT id, email FROM users WHERE id = $1`

	var user hoststore.User
	err := u.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Email)
	if isNoRows(err) {
		return nil, hoststore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: fetching user: %w", err)
	}
	return &user, nil
}
