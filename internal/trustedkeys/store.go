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

// Package trustedkeys persists enrolled browsers' Ed25519 public keys to a
// single JSON file, read-modify-write-whole-file on every change.
package trustedkeys

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Client is one previously enrolled browser.
type Client struct {
	ClientID      uuid.UUID `json:"client_id"`
	ClientName    string    `json:"client_name"`
	ClientBrowser string    `json:"client_browser"`
	ClientOS      string    `json:"client_os"`
	ClientDevice  string    `json:"client_device"`
	PublicKeyB64  string    `json:"public_key_b64"`
}

type clientsFile struct {
	Clients []Client `json:"clients"`
}

// Store guards whole-file read/modify/write access to the trusted-keys JSON
// file. A single Store should be shared across all handlers touching the
// same path.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store bound to path. The file need not exist yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Upsert inserts or replaces a client matching by id OR by public key,
// mirroring the original's "first match wins" semantics. Returns true if a
// new client was inserted (false if an existing one was replaced).
func (s *Store) Upsert(client Client) (bool, error) {
	if err := validateClient(client); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readLocked()
	if err != nil {
		return false, err
	}

	for i, existing := range file.Clients {
		if existing.ClientID == client.ClientID || existing.PublicKeyB64 == client.PublicKeyB64 {
			file.Clients[i] = client
			return false, s.writeLocked(file)
		}
	}

	file.Clients = append(file.Clients, client)
	return true, s.writeLocked(file)
}

// List returns every enrolled client.
func (s *Store) List() ([]Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	return file.Clients, nil
}

// Find returns the client with the given id, if any.
func (s *Store) Find(clientID uuid.UUID) (*Client, error) {
	clients, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		if c.ClientID == clientID {
			return &c, nil
		}
	}
	return nil, nil
}

// Remove deletes the client with the given id. Returns true if a client was
// removed.
func (s *Store) Remove(clientID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readLocked()
	if err != nil {
		return false, err
	}

	before := len(file.Clients)
	kept := file.Clients[:0]
	for _, c := range file.Clients {
		if c.ClientID != clientID {
			kept = append(kept, c)
		}
	}
	file.Clients = kept

	if len(file.Clients) == before {
		return false, nil
	}
	return true, s.writeLocked(file)
}

// LoadTrustedPublicKeys returns every enrolled browser's parsed Ed25519
// public key. Returns an error if the file has no clients, matching the
// original's "no trust anchors configured" rejection.
func (s *Store) LoadTrustedPublicKeys() ([]ed25519.PublicKey, error) {
	clients, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, errors.New("trustedkeys: no trusted clients configured")
	}

	keys := make([]ed25519.PublicKey, 0, len(clients))
	for _, c := range clients {
		pub, err := ParsePublicKeyBase64(c.PublicKeyB64)
		if err != nil {
			return nil, err
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// ParsePublicKeyBase64 decodes a base64-encoded 32-byte Ed25519 public key.
func ParsePublicKeyBase64(raw string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != ed25519.PublicKeySize {
		return nil, errors.New("trustedkeys: invalid public key")
	}
	return ed25519.PublicKey(decoded), nil
}

func (s *Store) readLocked() (*clientsFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &clientsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trustedkeys: reading %s: %w", s.path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return &clientsFile{}, nil
	}

	var file clientsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("trustedkeys: %s is invalid JSON: %w", s.path, err)
	}

	for _, c := range file.Clients {
		if err := validateClient(c); err != nil {
			return nil, err
		}
	}
	return &file, nil
}

func (s *Store) writeLocked(file *clientsFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("trustedkeys: serializing trusted keys: %w", err)
	}
	return os.WriteFile(s.path, append(data, '\n'), 0o600)
}

func validateClient(c Client) error {
	if strings.TrimSpace(c.ClientName) == "" {
		return errors.New("trustedkeys: client has an empty name")
	}
	if strings.TrimSpace(c.ClientBrowser) == "" {
		return errors.New("trustedkeys: client has an empty browser")
	}
	if strings.TrimSpace(c.ClientOS) == "" {
		return errors.New("trustedkeys: client has an empty OS")
	}
	if strings.TrimSpace(c.ClientDevice) == "" {
		return errors.New("trustedkeys: client has an empty device")
	}
	if _, err := ParsePublicKeyBase64(c.PublicKeyB64); err != nil {
		return errors.New("trustedkeys: client has an invalid public key")
	}
	return nil
}
