// SPDX-License-Identifier: LGPL-3.0-or-later

package relayauth

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/pkg/relaytypes"
)

// ListClients returns every browser currently enrolled against this local
// server.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	if rejectRelayed(w, r) {
		return
	}

	clients, err := h.trustedKeys.List()
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list enrolled clients", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, relaytypes.Failure[relaytypes.ListRelayPairedClientsResponse]("internal error"))
		return
	}

	out := make([]relaytypes.RelayPairedClient, 0, len(clients))
	for _, c := range clients {
		out = append(out, relaytypes.RelayPairedClient{
			ClientID:      c.ClientID,
			ClientName:    c.ClientName,
			ClientBrowser: c.ClientBrowser,
			ClientOS:      c.ClientOS,
			ClientDevice:  c.ClientDevice,
		})
	}

	writeJSON(w, http.StatusOK, relaytypes.Success(relaytypes.ListRelayPairedClientsResponse{Clients: out}))
}

// RemoveClient revokes a previously enrolled browser's pairing.
func (h *Handler) RemoveClient(w http.ResponseWriter, r *http.Request) {
	if rejectRelayed(w, r) {
		return
	}

	clientID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, relaytypes.Failure[relaytypes.RemoveRelayPairedClientResponse]("invalid client id"))
		return
	}

	removed, err := h.trustedKeys.Remove(clientID)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to remove enrolled client", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, relaytypes.Failure[relaytypes.RemoveRelayPairedClientResponse]("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, relaytypes.Success(relaytypes.RemoveRelayPairedClientResponse{Removed: removed}))
}
