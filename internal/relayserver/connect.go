// SPDX-License-Identifier: LGPL-3.0-or-later

package relayserver

import (
	"net/http"

	"github.com/sage-x-project/sage/internal/authsvc"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/internal/relaymux"
	"github.com/sage-x-project/sage/internal/relayregistry"
	"github.com/sage-x-project/sage/internal/wireio"
)

// Connect upgrades an authenticated agent's request to a WebSocket control
// channel, starts a stream multiplexer in the server-originating role over
// it, and registers the result as the host's live relay until the
// connection drops.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	rc, ok := authsvc.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	machineID := query.Get("machine_id")
	name := query.Get("name")
	if machineID == "" || name == "" {
		http.Error(w, "machine_id and name are required", http.StatusBadRequest)
		return
	}
	var agentVersion *string
	if v := query.Get("agent_version"); v != "" {
		agentVersion = &v
	}

	ctx := r.Context()
	log := logger.FromContext(ctx).With(
		logger.String("user_id", rc.User.ID.String()),
		logger.String("machine_id", machineID),
	)

	hostID, err := h.hosts.UpsertHost(ctx, rc.User.ID, machineID, name, agentVersion)
	if err != nil {
		log.Error("failed to upsert relay host", logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.hosts.MarkHostOnline(ctx, hostID, agentVersion); err != nil {
		log.Error("failed to mark host online", logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade control channel", logger.Err(err))
		return
	}
	defer wsConn.Close()

	muxer, err := relaymux.NewServerMuxer(wireio.New(wsConn))
	if err != nil {
		log.Error("failed to start control-channel multiplexer", logger.Err(err))
		return
	}
	defer muxer.Close()

	relay := relayregistry.NewActiveRelay(muxer)
	replacing := h.registry.Get(hostID) != nil
	h.registry.Insert(hostID, relay)
	metrics.ControlChannelConnects.Inc()
	if !replacing {
		metrics.HostsOnline.Inc()
	}
	log.Info("agent control channel connected")

	<-muxer.Done()

	metrics.ControlChannelDisconnects.Inc()
	if h.registry.RemoveIfSame(hostID, relay) {
		metrics.HostsOnline.Dec()
		if err := h.hosts.MarkHostOffline(ctx, hostID); err != nil {
			log.Error("failed to mark host offline", logger.Err(err))
		}
		log.Info("agent control channel disconnected")
	} else {
		log.Info("stale control channel torn down; a newer connection already replaced it")
	}
}
