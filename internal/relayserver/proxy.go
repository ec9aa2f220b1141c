// SPDX-License-Identifier: LGPL-3.0-or-later

package relayserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sage-x-project/sage/internal/authsvc"
	"github.com/sage-x-project/sage/internal/hoststore"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/internal/relayproxy"
)

// ProxyToHost validates the browser session embedded in the request path,
// then forwards the request onto the host's live control-channel stream.
// The rendezvous server never inspects or signs the proxied body — that
// happens entirely on the local server at the other end of the tunnel.
func (h *Handler) ProxyToHost(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hostID, err := uuid.Parse(vars["host_id"])
	if err != nil {
		http.Error(w, "invalid host id", http.StatusBadRequest)
		return
	}
	browserSessionID, err := uuid.Parse(vars["browser_session_id"])
	if err != nil {
		http.Error(w, "invalid browser session id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx).With(
		logger.String("host_id", hostID.String()),
		logger.String("browser_session_id", browserSessionID.String()),
	)

	rc, err := h.validateBrowserSession(ctx, hostID, browserSessionID, log)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	if err := h.hosts.AssertHostAccess(ctx, hostID, rc.User.ID); err != nil {
		if errors.Is(err, hoststore.ErrAccessDenied) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		log.Error("failed to assert host access", logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.browserSessions.Touch(ctx, browserSessionID); err != nil {
		log.Warn("failed to touch browser session", logger.Err(err))
	}

	relay := h.registry.Get(hostID)
	if relay == nil {
		http.Error(w, "host is not connected", http.StatusNotFound)
		return
	}

	timer := prometheus.NewTimer(metrics.ProxyRequestDuration)
	defer timer.ObserveDuration()

	stream, err := relay.Mux.OpenStream(ctx)
	if err != nil {
		log.Error("failed to open proxy stream", logger.Err(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer stream.Close()

	prefix := fmt.Sprintf("/relay/h/%s/s/%s", hostID, browserSessionID)
	if err := relayproxy.Request(w, r, stream, relayproxy.StripPrefix(prefix)); err != nil {
		log.Warn("proxy request failed", logger.Err(err))
	}
}

// validateBrowserSession mirrors the original's validate_browser_session_for_host:
// load the session, reject it outright if revoked or bound to a different
// host, then resolve the auth context behind it — revoking the browser
// session if that resolution fails, since an auth session that can no
// longer authenticate its owner should not keep granting relay access.
func (h *Handler) validateBrowserSession(ctx context.Context, hostID, browserSessionID uuid.UUID, log logger.Logger) (authsvc.RequestContext, error) {
	bs, err := h.browserSessions.Get(ctx, browserSessionID)
	if errors.Is(err, hoststore.ErrNotFound) {
		return authsvc.RequestContext{}, errProxyUnauthorized
	}
	if err != nil {
		log.Error("failed to load browser session", logger.Err(err))
		return authsvc.RequestContext{}, errProxyInternal
	}
	if bs.RevokedAt != nil || bs.HostID != hostID {
		return authsvc.RequestContext{}, errProxyUnauthorized
	}

	rc, err := h.resolver.FromAuthSessionID(ctx, bs.AuthSessionID)
	if err != nil {
		if revokeErr := h.browserSessions.Revoke(ctx, browserSessionID); revokeErr != nil {
			log.Error("failed to revoke browser session after auth failure", logger.Err(revokeErr))
		}
		return authsvc.RequestContext{}, errProxyUnauthorized
	}

	if rc.User.ID != bs.UserID {
		if revokeErr := h.browserSessions.Revoke(ctx, browserSessionID); revokeErr != nil {
			log.Error("failed to revoke browser session after user mismatch", logger.Err(revokeErr))
		}
		return authsvc.RequestContext{}, errProxyUnauthorized
	}

	return rc, nil
}

var (
	errProxyUnauthorized = errors.New("relayserver: browser session invalid")
	errProxyInternal     = errors.New("relayserver: internal error")
)

func writeProxyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errProxyUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
