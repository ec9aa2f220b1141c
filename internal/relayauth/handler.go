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

// Package relayauth implements the local server's pairing surface: a
// browser enrolls a fresh Ed25519 keypair over a SPAKE2 exchange seeded by
// a short-lived one-time code, lists and revokes previously enrolled
// browsers, and refreshes an expiring signing session by re-proving
// possession of its enrolled key. None of these endpoints are reachable
// over a relayed connection — enrollment only ever happens on the machine
// the local server actually runs on.
package relayauth

import (
	"time"

	"github.com/gorilla/mux"

	"github.com/sage-x-project/sage/internal/pake"
	"github.com/sage-x-project/sage/internal/relaysign"
	"github.com/sage-x-project/sage/internal/trustedkeys"
)

const (
	rateLimitWindow = 60 * time.Second

	generateCodeGlobalLimit    = 5
	spake2StartGlobalLimit     = 30
	signingRefreshGlobalLimit  = 30

	bucketEnrollmentCode  = "enrollment-code"
	bucketSpake2Start     = "spake2-start"
	bucketSigningRefresh  = "signing-session-refresh"
)

// Handler wires the pairing runtime, the trusted-client store and the
// signing-session service behind the relay-auth HTTP surface.
type Handler struct {
	runtime     *pake.Runtime
	trustedKeys *trustedkeys.Store
	signing     *relaysign.Service
}

// New builds a Handler over the given collaborators. A single Handler
// should be shared by every relay-auth request the local server serves.
func New(runtime *pake.Runtime, trustedKeys *trustedkeys.Store, signing *relaysign.Service) *Handler {
	return &Handler{runtime: runtime, trustedKeys: trustedKeys, signing: signing}
}

// Register mounts every relay-auth route onto r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/relay-auth/enrollment-code", h.GenerateEnrollmentCode).Methods("POST")
	r.HandleFunc("/relay-auth/spake2/start", h.StartEnrollment).Methods("POST")
	r.HandleFunc("/relay-auth/spake2/finish", h.FinishEnrollment).Methods("POST")
	r.HandleFunc("/relay-auth/clients", h.ListClients).Methods("GET")
	r.HandleFunc("/relay-auth/clients/{id}", h.RemoveClient).Methods("DELETE")
	r.HandleFunc("/relay-auth/signing-session/refresh", h.RefreshSigningSession).Methods("POST")
}
