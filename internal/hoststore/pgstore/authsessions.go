// SPDX-License-Identifier: LGPL-3.0-or-later

package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/sage/internal/hoststore"
)

const authSessionIdleLimit = 365 * 24 * time.Hour

// AuthSessionStore implements hoststore.AuthSessionRepository.
type AuthSessionStore struct {
	db *pgxpool.Pool
}

// Get implements hoststore.AuthSessionRepository. An inactivity window
// past 365 days revokes the session in the same call that observes it.
func (a *AuthSessionStore) Get(ctx context.Context, id uuid.UUID) (*hoststore.AuthSession, error) {
	query := `
		SELECT id, user_id, created_at, last_used_at, revoked_at, refresh_token
		FROM relay_auth_sessions
		WHERE id = $1
	`

	var sess hoststore.AuthSession
	err := a.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.LastUsedAt, &sess.RevokedAt, &sess.RefreshToken,
	)
	if isNoRows(err) {
		return nil, hoststore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: fetching auth session: %w", err)
	}
	if sess.RevokedAt != nil {
		return nil, hoststore.ErrExpired
	}
	if time.Since(sess.LastUsedAt) > authSessionIdleLimit {
		if revokeErr := a.Revoke(ctx, id); revokeErr != nil {
			return nil, fmt.Errorf("pgstore: revoking idle auth session: %w", revokeErr)
		}
		return nil, hoststore.ErrExpired
	}
	return &sess, nil
}

// Touch implements hoststore.AuthSessionRepository.
func (a *AuthSessionStore) Touch(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE relay_auth_sessions SET last_used_at = NOW() WHERE id = $1`
	result, err := a.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("pgstore: touching auth session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}

// Revoke implements hoststore.AuthSessionRepository.
func (a *AuthSessionStore) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE relay_auth_sessions SET revoked_at = NOW() WHERE id = $1`
	result, err := a.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("pgstore: revoking auth session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}
