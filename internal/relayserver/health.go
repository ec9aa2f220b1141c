// SPDX-License-Identifier: LGPL-3.0-or-later

package relayserver

import "net/http"

// Health reports liveness for load balancers and orchestrators. It does
// not touch the database or registry — a slow dependency should not flap
// the process's health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
