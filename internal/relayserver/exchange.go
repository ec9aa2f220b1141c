// SPDX-License-Identifier: LGPL-3.0-or-later

package relayserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sage-x-project/sage/internal/logger"
)

// ExchangeAuthCode redeems a one-time code minted by IssueAuthCode and
// redirects the browser to the stable URL it will use for every
// subsequent proxied request against this host.
func (h *Handler) ExchangeAuthCode(w http.ResponseWriter, r *http.Request) {
	hostID, err := uuid.Parse(mux.Vars(r)["host_id"])
	if err != nil {
		http.Error(w, "invalid host id", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	browserSessionID, ok, err := h.authCodes.RedeemForHost(ctx, code, hostID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to redeem auth code", logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "invalid or expired code", http.StatusUnauthorized)
		return
	}

	target := fmt.Sprintf("/relay/h/%s/s/%s", hostID, browserSessionID)
	http.Redirect(w, r, target, http.StatusFound)
}
