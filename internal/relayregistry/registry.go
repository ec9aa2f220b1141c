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

// Package relayregistry holds the rendezvous server's in-memory map of
// host id to live control channel. It is the only place that knows which
// agents are currently connected.
package relayregistry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sage-x-project/sage/internal/relaymux"
)

// ActiveRelay is a live control channel to a connected agent.
type ActiveRelay struct {
	Mux relaymux.Muxer
}

// NewActiveRelay wraps a started muxer as a registry entry.
func NewActiveRelay(mux relaymux.Muxer) *ActiveRelay {
	return &ActiveRelay{Mux: mux}
}

// Registry maps host id to its currently active relay, guarded by a single
// mutex. No I/O ever happens while the lock is held.
type Registry struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*ActiveRelay
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[uuid.UUID]*ActiveRelay)}
}

// Insert registers relay for hostID, replacing any existing entry.
func (r *Registry) Insert(hostID uuid.UUID, relay *ActiveRelay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[hostID] = relay
}

// Remove unconditionally removes the entry for hostID.
func (r *Registry) Remove(hostID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, hostID)
}

// Get returns the active relay for hostID, if any.
func (r *Registry) Get(hostID uuid.UUID) *ActiveRelay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[hostID]
}

// RemoveIfSame removes the entry for hostID only if it is still exactly
// relay (pointer identity), preventing a stale control-channel teardown
// from evicting a newer connection that has since replaced it. Returns
// whether the removal happened.
func (r *Registry) RemoveIfSame(hostID uuid.UUID, relay *ActiveRelay) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byID[hostID]; ok && current == relay {
		delete(r.byID, hostID)
		return true
	}
	return false
}
