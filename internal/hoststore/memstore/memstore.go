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

// Package memstore implements hoststore's repositories with in-process
// maps. It backs the test suite and any standalone deployment run without
// DATABASE_URL set.
//
// The five repository interfaces share overlapping method names (Create,
// Get, Revoke, Touch) with different signatures, so a single Go type
// cannot implement all of them at once. Store holds the shared state and
// mutex; Hosts, AuthCodes, BrowserSessions, AuthSessions and Users are
// thin views over it, each satisfying exactly one hoststore interface.
package memstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/sage/internal/hoststore"
)

const authCodeTTL = 30 * time.Second
const authSessionIdleTTL = 365 * 24 * time.Hour

type authCodeEntry struct {
	hostID           uuid.UUID
	browserSessionID string
	expiresAt        time.Time
	consumedAt       *time.Time
}

// Store is the shared in-memory backing for every view type in this
// package. Construct once per process and share it across the view types.
type Store struct {
	mu sync.Mutex

	hosts           map[uuid.UUID]*hoststore.RelayHost
	hostsByOwnerMID map[[2]string]uuid.UUID // key: ownerUserID.String(), machineID

	sessions map[uuid.UUID]*hoststore.RelaySession

	authCodes map[string]*authCodeEntry // key: sha256 hex of code

	browserSessions map[uuid.UUID]*hoststore.RelayBrowserSession

	authSessions map[uuid.UUID]*hoststore.AuthSession

	users map[uuid.UUID]*hoststore.User
}

// New returns an empty store.
func New() *Store {
	return &Store{
		hosts:           make(map[uuid.UUID]*hoststore.RelayHost),
		hostsByOwnerMID: make(map[[2]string]uuid.UUID),
		sessions:        make(map[uuid.UUID]*hoststore.RelaySession),
		authCodes:       make(map[string]*authCodeEntry),
		browserSessions: make(map[uuid.UUID]*hoststore.RelayBrowserSession),
		authSessions:    make(map[uuid.UUID]*hoststore.AuthSession),
		users:           make(map[uuid.UUID]*hoststore.User),
	}
}

// Hosts returns the hoststore.HostRepository view over s.
func (s *Store) Hosts() *HostStore { return &HostStore{s: s} }

// AuthCodes returns the hoststore.AuthCodeRepository view over s.
func (s *Store) AuthCodes() *AuthCodeStore { return &AuthCodeStore{s: s} }

// BrowserSessions returns the hoststore.BrowserSessionRepository view over s.
func (s *Store) BrowserSessions() *BrowserSessionStore { return &BrowserSessionStore{s: s} }

// AuthSessions returns the hoststore.AuthSessionRepository view over s.
func (s *Store) AuthSessions() *AuthSessionStore { return &AuthSessionStore{s: s} }

// Users returns the hoststore.UserRepository view over s.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

// SeedUser registers a user record directly, bypassing any signup flow
// (out of scope for this core).
func (s *Store) SeedUser(u hoststore.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
}

// SeedAuthSession registers an auth session directly, for tests that need
// a pre-existing session to authenticate against.
func (s *Store) SeedAuthSession(a hoststore.AuthSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.authSessions[a.ID] = &cp
}

// SeedSession registers a session directly, for tests exercising
// auth-code issuance or proxy flows without a full request-a-session leg.
func (s *Store) SeedSession(sess hoststore.RelaySession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess
	s.sessions[sess.ID] = &cp
}

func hostKey(ownerUserID uuid.UUID, machineID string) [2]string {
	return [2]string{ownerUserID.String(), machineID}
}

// HostStore implements hoststore.HostRepository.
type HostStore struct{ s *Store }

func (h *HostStore) UpsertHost(_ context.Context, ownerUserID uuid.UUID, machineID, name string, agentVersion *string) (uuid.UUID, error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hostKey(ownerUserID, machineID)
	now := time.Now()
	if id, ok := s.hostsByOwnerMID[key]; ok {
		host := s.hosts[id]
		host.Name = name
		host.AgentVersion = agentVersion
		host.UpdatedAt = now
		return id, nil
	}

	id := uuid.New()
	s.hosts[id] = &hoststore.RelayHost{
		ID:           id,
		OwnerUserID:  ownerUserID,
		MachineID:    machineID,
		Name:         name,
		Status:       hoststore.HostOffline,
		AgentVersion: agentVersion,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.hostsByOwnerMID[key] = id
	return id, nil
}

func (h *HostStore) MarkHostOnline(_ context.Context, hostID uuid.UUID, agentVersion *string) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	host, ok := s.hosts[hostID]
	if !ok {
		return hoststore.ErrNotFound
	}
	now := time.Now()
	host.Status = hoststore.HostOnline
	host.LastSeenAt = &now
	if agentVersion != nil {
		host.AgentVersion = agentVersion
	}
	host.UpdatedAt = now
	return nil
}

func (h *HostStore) MarkHostOffline(_ context.Context, hostID uuid.UUID) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	host, ok := s.hosts[hostID]
	if !ok {
		return hoststore.ErrNotFound
	}
	host.Status = hoststore.HostOffline
	host.UpdatedAt = time.Now()
	return nil
}

func (h *HostStore) GetSessionForRequester(_ context.Context, sessionID, requesterUserID uuid.UUID) (*hoststore.RelaySession, error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.RequesterUserID != requesterUserID {
		return nil, hoststore.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (h *HostStore) MarkSessionExpired(_ context.Context, sessionID uuid.UUID) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return hoststore.ErrNotFound
	}
	now := time.Now()
	sess.State = hoststore.SessionExpired
	sess.EndedAt = &now
	return nil
}

func (h *HostStore) MarkSessionActive(_ context.Context, sessionID uuid.UUID) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return hoststore.ErrNotFound
	}
	sess.State = hoststore.SessionActive
	if sess.ClaimedAt == nil {
		now := time.Now()
		sess.ClaimedAt = &now
	}
	return nil
}

func (h *HostStore) AssertHostAccess(_ context.Context, hostID, userID uuid.UUID) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	host, ok := s.hosts[hostID]
	if !ok {
		return hoststore.ErrNotFound
	}
	if host.OwnerUserID != userID {
		return hoststore.ErrAccessDenied
	}
	return nil
}

// AuthCodeStore implements hoststore.AuthCodeRepository.
type AuthCodeStore struct{ s *Store }

func randomCode() (string, error) {
	var buf [18]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("memstore: generating auth code: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (a *AuthCodeStore) Create(_ context.Context, hostID uuid.UUID, browserSessionID string) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}

	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[hashCode(code)] = &authCodeEntry{
		hostID:           hostID,
		browserSessionID: browserSessionID,
		expiresAt:        time.Now().Add(authCodeTTL),
	}
	return code, nil
}

func (a *AuthCodeStore) RedeemForHost(_ context.Context, code string, hostID uuid.UUID) (string, bool, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashCode(code)
	entry, ok := s.authCodes[key]
	if !ok {
		return "", false, nil
	}
	if entry.consumedAt != nil || time.Now().After(entry.expiresAt) || entry.hostID != hostID {
		return "", false, nil
	}
	now := time.Now()
	entry.consumedAt = &now
	return entry.browserSessionID, true, nil
}

// BrowserSessionStore implements hoststore.BrowserSessionRepository.
type BrowserSessionStore struct{ s *Store }

func (b *BrowserSessionStore) Create(_ context.Context, hostID, userID, authSessionID uuid.UUID) (*hoststore.RelayBrowserSession, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	bs := &hoststore.RelayBrowserSession{
		ID:            uuid.New(),
		HostID:        hostID,
		UserID:        userID,
		AuthSessionID: authSessionID,
		CreatedAt:     now,
		LastUsedAt:    now,
	}
	s.browserSessions[bs.ID] = bs
	cp := *bs
	return &cp, nil
}

func (b *BrowserSessionStore) Get(_ context.Context, id uuid.UUID) (*hoststore.RelayBrowserSession, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, ok := s.browserSessions[id]
	if !ok {
		return nil, hoststore.ErrNotFound
	}
	cp := *bs
	return &cp, nil
}

func (b *BrowserSessionStore) Revoke(_ context.Context, id uuid.UUID) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, ok := s.browserSessions[id]
	if !ok {
		return hoststore.ErrNotFound
	}
	now := time.Now()
	bs.RevokedAt = &now
	return nil
}

func (b *BrowserSessionStore) Touch(_ context.Context, id uuid.UUID) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, ok := s.browserSessions[id]
	if !ok {
		return hoststore.ErrNotFound
	}
	bs.LastUsedAt = time.Now()
	return nil
}

// AuthSessionStore implements hoststore.AuthSessionRepository.
type AuthSessionStore struct{ s *Store }

func (a *AuthSessionStore) Get(_ context.Context, id uuid.UUID) (*hoststore.AuthSession, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.authSessions[id]
	if !ok {
		return nil, hoststore.ErrNotFound
	}
	if sess.RevokedAt != nil {
		return nil, hoststore.ErrExpired
	}
	if time.Since(sess.LastUsedAt) > authSessionIdleTTL {
		now := time.Now()
		sess.RevokedAt = &now
		return nil, hoststore.ErrExpired
	}
	cp := *sess
	return &cp, nil
}

func (a *AuthSessionStore) Touch(_ context.Context, id uuid.UUID) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.authSessions[id]
	if !ok {
		return hoststore.ErrNotFound
	}
	sess.LastUsedAt = time.Now()
	return nil
}

func (a *AuthSessionStore) Revoke(_ context.Context, id uuid.UUID) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.authSessions[id]
	if !ok {
		return hoststore.ErrNotFound
	}
	now := time.Now()
	sess.RevokedAt = &now
	return nil
}

// UserStore implements hoststore.UserRepository.
type UserStore struct{ s *Store }

func (u *UserStore) FetchUser(_ context.Context, id uuid.UUID) (*hoststore.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, hoststore.ErrNotFound
	}
	cp := *user
	return &cp, nil
}
