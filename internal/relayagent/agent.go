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

// Package relayagent is the local side of the tunnel: it dials the
// rendezvous server's control channel outbound, serves the pairing
// surface (internal/relayauth) and signed-request verification
// (internal/reqsign) on its own local listener, and proxies every other
// request to the user's actual local application. The same router
// answers both a direct local request and one that arrived over the
// tunnel — the only difference is that a tunnel-sourced request is
// marked x-vk-relayed before it reaches the router, which is what makes
// internal/relayauth reject it and internal/reqsign demand a signature.
package relayagent

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sage-x-project/sage/internal/config"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/pake"
	"github.com/sage-x-project/sage/internal/relayauth"
	"github.com/sage-x-project/sage/internal/relaysign"
	"github.com/sage-x-project/sage/internal/reqsign"
	"github.com/sage-x-project/sage/internal/trustedkeys"
)

// Agent owns the local pairing/signing stack and the outbound tunnel
// connection built over it.
type Agent struct {
	cfg    *config.AgentConfig
	log    logger.Logger
	signer *relaysign.Service
	trust  *trustedkeys.Store
	pake   *pake.Runtime

	router *mux.Router
	dialer websocket.Dialer
}

// New builds an Agent from cfg, loading or generating the local signing
// key at cfg.SigningKeyPath and opening the trusted-keys file at
// cfg.TrustedKeysPath.
func New(cfg *config.AgentConfig, log logger.Logger) (*Agent, error) {
	signer, err := relaysign.LoadOrGenerate(cfg.SigningKeyPath)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:    cfg,
		log:    log,
		signer: signer,
		trust:  trustedkeys.New(cfg.TrustedKeysPath),
		pake:   pake.NewRuntime(),
		dialer: websocket.Dialer{},
	}
	a.router = a.buildRouter()
	return a, nil
}

// buildRouter mounts the pairing surface and, behind signature
// verification, the upstream-proxying catch-all.
func (a *Agent) buildRouter() *mux.Router {
	r := mux.NewRouter()

	relayauth.New(a.pake, a.trust, a.signer).Register(r)

	nowUnix := func() int64 { return time.Now().Unix() }
	proxy := http.HandlerFunc(a.proxyToUpstream)
	signed := reqsign.SignResponse(a.signer, nowUnix)(proxy)
	catchAll := reqsign.RequireSignature(a.signer)(signed)
	r.PathPrefix("/").Handler(catchAll)

	return r
}
