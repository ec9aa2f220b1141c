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

// Package relayserver implements the rendezvous server's HTTP surface: the
// agent's control-channel upgrade, a logged-in browser exchanging a
// session for a one-time auth code, the browser's code-for-cookie
// exchange, and the actual browser-to-agent request proxy. Everything
// here runs on the public rendezvous host; the agent-local pairing
// surface lives in internal/relayauth instead.
package relayserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sage-x-project/sage/internal/authsvc"
	"github.com/sage-x-project/sage/internal/hoststore"
	"github.com/sage-x-project/sage/internal/relayregistry"
)

// Handler wires the rendezvous server's repositories, live-connection
// registry and session resolver behind its HTTP routes.
type Handler struct {
	hosts           hoststore.HostRepository
	authCodes       hoststore.AuthCodeRepository
	browserSessions hoststore.BrowserSessionRepository
	authSessions    hoststore.AuthSessionRepository

	registry *relayregistry.Registry
	resolver *authsvc.Resolver

	upgrader websocket.Upgrader
}

// Deps collects the Handler's constructor arguments so New's signature
// doesn't grow every time the rendezvous server needs another repository.
type Deps struct {
	Hosts           hoststore.HostRepository
	AuthCodes       hoststore.AuthCodeRepository
	BrowserSessions hoststore.BrowserSessionRepository
	AuthSessions    hoststore.AuthSessionRepository
	Registry        *relayregistry.Registry
	Resolver        *authsvc.Resolver
}

// New builds a Handler over deps.
func New(deps Deps) *Handler {
	return &Handler{
		hosts:           deps.Hosts,
		authCodes:       deps.AuthCodes,
		browserSessions: deps.BrowserSessions,
		authSessions:    deps.AuthSessions,
		registry:        deps.Registry,
		resolver:        deps.Resolver,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			// The control channel is opened by the relay agent, not a
			// browser; there is no Origin header semantics to enforce here,
			// unlike a browser-facing WebSocket endpoint.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts every rendezvous route onto r.
func (h *Handler) Register(r *mux.Router) {
	authed := r.NewRoute().Subrouter()
	authed.Use(authsvc.RequireSession(h.resolver))
	authed.HandleFunc("/v1/relay/connect", h.Connect).Methods("GET")
	authed.HandleFunc("/v1/relay/sessions/{session_id}/auth-code", h.IssueAuthCode).Methods("POST")

	r.HandleFunc("/relay/h/{host_id}/exchange", h.ExchangeAuthCode).Methods("GET")
	r.PathPrefix("/relay/h/{host_id}/s/{browser_session_id}").HandlerFunc(h.ProxyToHost)
	r.HandleFunc("/health", h.Health).Methods("GET")
}
