// SPDX-License-Identifier: LGPL-3.0-or-later

package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/sage/internal/hoststore"
)

// HostStore implements hoststore.HostRepository.
type HostStore struct {
	db *pgxpool.Pool
}

// UpsertHost implements hoststore.HostRepository.
func (h *HostStore) UpsertHost(ctx context.Context, ownerUserID uuid.UUID, machineID, name string, agentVersion *string) (uuid.UUID, error) {
	query := `
		INSERT INTO relay_hosts (id, owner_user_id, machine_id, name, status, agent_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'offline', $5, NOW(), NOW())
		ON CONFLICT (owner_user_id, machine_id) DO UPDATE
		SET name = EXCLUDED.name, agent_version = EXCLUDED.agent_version, updated_at = NOW()
		RETURNING id
	`

	var id uuid.UUID
	err := h.db.QueryRow(ctx, query, uuid.New(), ownerUserID, machineID, name, agentVersion).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("pgstore: upserting host: %w", err)
	}
	return id, nil
}

// MarkHostOnline implements hoststore.HostRepository.
func (h *HostStore) MarkHostOnline(ctx context.Context, hostID uuid.UUID, agentVersion *string) error {
	query := `
		UPDATE relay_hosts
		SET status = 'online', last_seen_at = NOW(),
		    agent_version = COALESCE($2, agent_version), updated_at = NOW()
		WHERE id = $1
	`
	result, err := h.db.Exec(ctx, query, hostID, agentVersion)
	if err != nil {
		return fmt.Errorf("pgstore: marking host online: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}

// MarkHostOffline implements hoststore.HostRepository.
func (h *HostStore) MarkHostOffline(ctx context.Context, hostID uuid.UUID) error {
	query := `UPDATE relay_hosts SET status = 'offline', updated_at = NOW() WHERE id = $1`
	result, err := h.db.Exec(ctx, query, hostID)
	if err != nil {
		return fmt.Errorf("pgstore: marking host offline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}

// GetSessionForRequester implements hoststore.HostRepository.
func (h *HostStore) GetSessionForRequester(ctx context.Context, sessionID, requesterUserID uuid.UUID) (*hoststore.RelaySession, error) {
	query := `
		SELECT id, host_id, requester_user_id, state, created_at, expires_at, claimed_at, ended_at
		FROM relay_sessions
		WHERE id = $1 AND requester_user_id = $2
	`

	var sess hoststore.RelaySession
	var state string
	err := h.db.QueryRow(ctx, query, sessionID, requesterUserID).Scan(
		&sess.ID, &sess.HostID, &sess.RequesterUserID, &state,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.ClaimedAt, &sess.EndedAt,
	)
	if isNoRows(err) {
		return nil, hoststore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: fetching session: %w", err)
	}
	sess.State = hoststore.SessionState(state)
	return &sess, nil
}

// MarkSessionExpired implements hoststore.HostRepository.
func (h *HostStore) MarkSessionExpired(ctx context.Context, sessionID uuid.UUID) error {
	query := `UPDATE relay_sessions SET state = 'expired', ended_at = NOW() WHERE id = $1`
	result, err := h.db.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("pgstore: expiring session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}

// MarkSessionActive implements hoststore.HostRepository.
func (h *HostStore) MarkSessionActive(ctx context.Context, sessionID uuid.UUID) error {
	query := `
		UPDATE relay_sessions
		SET state = 'active', claimed_at = COALESCE(claimed_at, NOW())
		WHERE id = $1
	`
	result, err := h.db.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("pgstore: activating session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hoststore.ErrNotFound
	}
	return nil
}

// AssertHostAccess implements hoststore.HostRepository.
func (h *HostStore) AssertHostAccess(ctx context.Context, hostID, userID uuid.UUID) error {
	query := `SELECT owner_user_id FROM relay_hosts WHERE id = $1`

	var ownerID uuid.UUID
	err := h.db.QueryRow(ctx, query, hostID).Scan(&ownerID)
	if isNoRows(err) {
		return hoststore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("pgstore: checking host access: %w", err)
	}
	if ownerID != userID {
		return hoststore.ErrAccessDenied
	}
	return nil
}
