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

// Package pgstore implements hoststore's repositories against Postgres via
// pgx. Schema management (migrations, table DDL) is out of scope for this
// core, per spec.md §1 — this package assumes the tables it queries exist.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/sage/internal/hoststore"
)

// Store owns the connection pool shared by every view type in this
// package.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool against connString and verifies it with a ping.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Hosts returns the hoststore.HostRepository view over s.
func (s *Store) Hosts() *HostStore { return &HostStore{db: s.pool} }

// AuthCodes returns the hoststore.AuthCodeRepository view over s.
func (s *Store) AuthCodes() *AuthCodeStore { return &AuthCodeStore{db: s.pool} }

// BrowserSessions returns the hoststore.BrowserSessionRepository view over s.
func (s *Store) BrowserSessions() *BrowserSessionStore { return &BrowserSessionStore{db: s.pool} }

// AuthSessions returns the hoststore.AuthSessionRepository view over s.
func (s *Store) AuthSessions() *AuthSessionStore { return &AuthSessionStore{db: s.pool} }

// Users returns the hoststore.UserRepository view over s.
func (s *Store) Users() *UserStore { return &UserStore{db: s.pool} }

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
