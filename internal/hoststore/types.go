// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package hoststore defines the relay's persistence contracts. The core
// never talks to a database directly; it depends only on the narrow
// repository interfaces declared here. Two adapters are provided:
// memstore (in-process, used by tests and standalone deployments) and
// pgstore (pgx-backed, for a real Postgres-backed deployment).
package hoststore

import (
	"time"

	"github.com/google/uuid"
)

// HostStatus is a RelayHost's connectivity state.
type HostStatus string

const (
	HostOnline  HostStatus = "online"
	HostOffline HostStatus = "offline"
)

// SessionState is a RelaySession's lifecycle state.
type SessionState string

const (
	SessionRequested SessionState = "requested"
	SessionActive    SessionState = "active"
	SessionExpired   SessionState = "expired"
)

// RelayHost is one agent-managed machine a user has enrolled for relaying.
// (owner_user_id, machine_id) is unique; Status reflects whether a live
// control channel is currently registered for it.
type RelayHost struct {
	ID             uuid.UUID
	OwnerUserID    uuid.UUID
	OrgID          *uuid.UUID
	MachineID      string
	Name           string
	Status         HostStatus
	LastSeenAt     *time.Time
	AgentVersion   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RelaySession represents a requester's claim on access to a host.
// state = expired implies EndedAt is set; state = active implies ClaimedAt
// is set; a session observed past ExpiresAt must be transitioned to
// expired before it can serve a request.
type RelaySession struct {
	ID              uuid.UUID
	HostID          uuid.UUID
	RequesterUserID uuid.UUID
	State           SessionState
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ClaimedAt       *time.Time
	EndedAt         *time.Time
}

// RelayBrowserSession binds a browser tab to a host for the lifetime of one
// relay auth-code redemption. Created at auth-code issuance; revoked either
// explicitly or when its owning auth session fails.
type RelayBrowserSession struct {
	ID            uuid.UUID
	HostID        uuid.UUID
	UserID        uuid.UUID
	AuthSessionID uuid.UUID
	CreatedAt     time.Time
	LastUsedAt    time.Time
	RevokedAt     *time.Time
}

// AuthSession tracks a user's refresh-token-backed login. Inactivity past
// 365 days forces revocation before the session can be used again.
type AuthSession struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CreatedAt    time.Time
	LastUsedAt   time.Time
	RevokedAt    *time.Time
	RefreshToken string
}

// User is the minimal identity record the relay needs: enough to attribute
// hosts and sessions to an owner.
type User struct {
	ID    uuid.UUID
	Email string
}
