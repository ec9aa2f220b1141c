// SPDX-License-Identifier: LGPL-3.0-or-later

package hoststore

import (
	"context"

	"github.com/google/uuid"
)

// HostRepository persists RelayHost and RelaySession records.
type HostRepository interface {
	// UpsertHost creates or updates the (ownerUserID, machineID) host,
	// returning its id. name and agentVersion are updated in place on an
	// existing row.
	UpsertHost(ctx context.Context, ownerUserID uuid.UUID, machineID, name string, agentVersion *string) (hostID uuid.UUID, err error)
	// MarkHostOnline records that the host's control channel is live.
	MarkHostOnline(ctx context.Context, hostID uuid.UUID, agentVersion *string) error
	// MarkHostOffline records that the host's control channel dropped.
	MarkHostOffline(ctx context.Context, hostID uuid.UUID) error
	// GetSessionForRequester loads a session, scoped to the requesting
	// user; returns ErrNotFound if it belongs to someone else or doesn't
	// exist.
	GetSessionForRequester(ctx context.Context, sessionID, requesterUserID uuid.UUID) (*RelaySession, error)
	MarkSessionExpired(ctx context.Context, sessionID uuid.UUID) error
	MarkSessionActive(ctx context.Context, sessionID uuid.UUID) error
	// AssertHostAccess returns ErrAccessDenied unless userID is hostID's
	// owner; a host's OrgID is not consulted, so organization members
	// other than the owner are denied.
	AssertHostAccess(ctx context.Context, hostID, userID uuid.UUID) error
}

// AuthCodeRepository persists the one-time relay auth codes issued to
// browsers. Codes are always stored hashed; see RelayAuthCode in spec.md §3.
type AuthCodeRepository interface {
	// Create mints a new one-time code bound to hostID and
	// browserSessionID, returning the plaintext code.
	Create(ctx context.Context, hostID uuid.UUID, browserSessionID string) (code string, err error)
	// RedeemForHost consumes code if it is unexpired, unconsumed, and
	// bound to hostID, returning the browser session id it was bound to.
	RedeemForHost(ctx context.Context, code string, hostID uuid.UUID) (browserSessionID string, ok bool, err error)
}

// BrowserSessionRepository persists RelayBrowserSession records.
type BrowserSessionRepository interface {
	Create(ctx context.Context, hostID, userID, authSessionID uuid.UUID) (*RelayBrowserSession, error)
	Get(ctx context.Context, id uuid.UUID) (*RelayBrowserSession, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
}

// AuthSessionRepository persists AuthSession records.
type AuthSessionRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*AuthSession, error)
	Touch(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID) error
}

// UserRepository resolves user identities.
type UserRepository interface {
	FetchUser(ctx context.Context, id uuid.UUID) (*User, error)
}
