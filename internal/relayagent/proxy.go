// SPDX-License-Identifier: LGPL-3.0-or-later

package relayagent

import (
	"net"
	"net/http"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/relayproxy"
)

// proxyToUpstream forwards r onto the user's actual local application,
// unchanged path-wise. Both a direct local request and a verified relayed
// one end up here; the only difference already happened in RequireSignature.
func (a *Agent) proxyToUpstream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	conn, err := net.Dial("tcp", a.cfg.UpstreamAddr)
	if err != nil {
		log.Error("failed to dial upstream application", logger.Err(err), logger.String("upstream_addr", a.cfg.UpstreamAddr))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer conn.Close()

	if err := relayproxy.Request(w, r, conn, relayproxy.Identity); err != nil {
		log.Warn("upstream proxy request failed", logger.Err(err))
	}
}
