// SPDX-License-Identifier: LGPL-3.0-or-later

package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/sage/internal/hoststore"
)

// BrowserSessionStore implements hoststore.BrowserSessionRepository.
type BrowserSessionStore struct {
	db *pgxpool.Pool
}

// Create implements hoststore.BrowserSessionRepository.
func (b *BrowserSessionStore) Create(ctx context.Context, hostID, userID, authSessionID uuid.UUID) (*hoststore.RelayBrowserSession, error) {
	query := `
		INSERT INTO relay_browser_sessions (id, host_id, user_id, auth_session_id, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, host_id, user_id, auth_session_id, created_at, last_used_at, revoked_at
	`

	var bs hoststore.RelayBrowserSession
	err := b.db.QueryRow(ctx, query, uuid.New(), hostID, userID, authSessionID).Scan(
		&bs.ID, &bs.HostID, &bs.UserID, &bs.AuthSessionID, &bs.CreatedAt, &bs.LastUsedAt, &bs.RevokedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: creating browser session: %w", err)
	}
	return &bs, nil
}

// Get implements hoststore.BrowserSessionRepository.
func (b *BrowserSessionStore) Get(ctx context.Context, id uuid.UUID) (*hoststore.RelayBrowserSession, error) {
	query := `
		SELECT id, host_id, user_id, auth_session_id, created_at, last_used_at, revoked_at
		FROM relay_browser_sessions
		WHERE id = $1
	`

	var bs hoststore.RelayBrowserSession
	err := b.db.QueryRow(ctx, query, id).Scan(
		&bs.ID, &bs.HostID, &bs.UserID, &bs.AuthSessionID, &bs.CreatedAt, &bs.LastUsedAt, &bs.RevokedAt,
	)
	if isNoRows(err) {
		return nil, hoststore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: fetching browser session: %w", err)
	}
	return &bs, nil
}

// Revoke implements hoststore.BrowserSessionRepository.
func (b *BrowserSessionStore) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE relay_browser_sessions SET revoked_at = NOW() WHERE id = $1`
	result, err := b.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("pgstore: revoking browser session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}

// Touch implements hoststore.BrowserSessionRepository.
func (b *BrowserSessionStore) Touch(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE relay_browser_sessions SET last_used_at = NOW() WHERE id = $1`
	result, err := b.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("pgstore: touching browser session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}
