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

// Package relaysign tracks per-browser Ed25519 signing sessions and signs
// and verifies messages on their behalf. It is the trust anchor every
// signed request, response and WebSocket frame passes through.
package relaysign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxTimestampDriftSecs = 30
	sessionTTL            = 60 * time.Minute
	sessionIdleTTL        = 15 * time.Minute
	nonceTTL              = 2 * time.Minute
)

// ValidationError enumerates why a signed message was rejected.
type ValidationError int

const (
	ErrTimestampOutOfDrift ValidationError = iota
	ErrMissingSigningSession
	ErrInvalidNonce
	ErrReplayNonce
	ErrInvalidSignature
)

func (e ValidationError) Error() string {
	switch e {
	case ErrTimestampOutOfDrift:
		return "timestamp outside drift window"
	case ErrMissingSigningSession:
		return "missing or expired signing session"
	case ErrInvalidNonce:
		return "invalid nonce"
	case ErrReplayNonce:
		return "replayed nonce"
	case ErrInvalidSignature:
		return "invalid signature"
	default:
		return "unknown signature validation error"
	}
}

type session struct {
	browserPublicKey ed25519.PublicKey
	createdAt        time.Time
	lastUsedAt       time.Time
	seenNonces       map[string]time.Time
}

// Service is the signing-session registry and server signing key holder.
// All exported methods are safe for concurrent use.
type Service struct {
	mu             sync.Mutex
	sessions       map[uuid.UUID]*session
	serverSignKey  ed25519.PrivateKey
	serverVerify   ed25519.PublicKey
}

// New builds a Service around an already-loaded server signing key.
func New(serverSigningKey ed25519.PrivateKey) *Service {
	pub, _ := serverSigningKey.Public().(ed25519.PublicKey)
	return &Service{
		sessions:      make(map[uuid.UUID]*session),
		serverSignKey: serverSigningKey,
		serverVerify:  pub,
	}
}

// LoadOrGenerate reads a 32-byte Ed25519 seed from keyPath, or generates and
// persists one (0600, write-temp-then-rename) if the file does not exist.
func LoadOrGenerate(keyPath string) (*Service, error) {
	if seed, err := os.ReadFile(keyPath); err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("relaysign: signing key file %s has invalid length (expected %d bytes, got %d)", keyPath, ed25519.SeedSize, len(seed))
		}
		return New(ed25519.NewKeyFromSeed(seed)), nil
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("relaysign: generating signing key: %w", err)
	}

	if dir := filepath.Dir(keyPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("relaysign: creating key directory: %w", err)
		}
	}

	tmp := keyPath + ".tmp"
	if err := os.WriteFile(tmp, seed, 0o600); err != nil {
		return nil, fmt.Errorf("relaysign: writing signing key: %w", err)
	}
	if err := os.Rename(tmp, keyPath); err != nil {
		return nil, fmt.Errorf("relaysign: installing signing key: %w", err)
	}

	return New(ed25519.NewKeyFromSeed(seed)), nil
}

// ServerPublicKey returns the server's own Ed25519 public key.
func (s *Service) ServerPublicKey() ed25519.PublicKey {
	return s.serverVerify
}

// CreateSession registers a new signing session bound to a browser's Ed25519
// public key and returns its id.
func (s *Service) CreateSession(browserPublicKey ed25519.PublicKey) uuid.UUID {
	id := uuid.New()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &session{
		browserPublicKey: browserPublicKey,
		createdAt:        now,
		lastUsedAt:       now,
		seenNonces:       make(map[string]time.Time),
	}
	return id
}

// VerifyMessage checks a timestamp, nonce (replay-protected) and Ed25519
// signature against the named signing session's browser public key.
func (s *Service) VerifyMessage(id uuid.UUID, timestamp int64, nonce string, message []byte, signatureB64 string) error {
	if len(nonce) == 0 || len(nonce) > 128 {
		return ErrInvalidNonce
	}
	if err := validateTimestamp(timestamp); err != nil {
		return err
	}

	signature, err := parseSignatureB64(signatureB64)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getValidSessionLocked(id)
	if err != nil {
		return err
	}

	now := time.Now()
	for n, seenAt := range sess.seenNonces {
		if now.Sub(seenAt) > nonceTTL {
			delete(sess.seenNonces, n)
		}
	}
	if _, seen := sess.seenNonces[nonce]; seen {
		return ErrReplayNonce
	}

	if !ed25519.Verify(sess.browserPublicKey, message, signature) {
		return ErrInvalidSignature
	}

	sess.seenNonces[nonce] = now
	sess.lastUsedAt = now
	return nil
}

// SignMessage signs message with the server's signing key on behalf of the
// named signing session, refreshing its idle TTL.
func (s *Service) SignMessage(id uuid.UUID, message []byte) (string, error) {
	s.mu.Lock()
	sess, err := s.getValidSessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	sess.lastUsedAt = time.Now()
	s.mu.Unlock()

	signature := ed25519.Sign(s.serverSignKey, message)
	return base64.StdEncoding.EncodeToString(signature), nil
}

// VerifySignature verifies a signature against the session's browser public
// key without nonce/replay bookkeeping (used for WS frame verification,
// which tracks sequence numbers instead of nonces).
func (s *Service) VerifySignature(id uuid.UUID, message []byte, signatureB64 string) error {
	signature, err := parseSignatureB64(signatureB64)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.getValidSessionLocked(id)
	if err != nil {
		return err
	}

	if !ed25519.Verify(sess.browserPublicKey, message, signature) {
		return ErrInvalidSignature
	}
	sess.lastUsedAt = time.Now()
	return nil
}

// getValidSessionLocked sweeps expired sessions then looks up id. Caller
// must hold s.mu.
func (s *Service) getValidSessionLocked(id uuid.UUID) (*session, error) {
	now := time.Now()
	for sid, sess := range s.sessions {
		if now.Sub(sess.createdAt) > sessionTTL || now.Sub(sess.lastUsedAt) > sessionIdleTTL {
			delete(s.sessions, sid)
		}
	}

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrMissingSigningSession
	}
	return sess, nil
}

func validateTimestamp(timestamp int64) error {
	now := time.Now().Unix()
	drift := now - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > maxTimestampDriftSecs {
		return ErrTimestampOutOfDrift
	}
	return nil
}

func parseSignatureB64(signatureB64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return nil, ErrInvalidSignature
	}
	return raw, nil
}
