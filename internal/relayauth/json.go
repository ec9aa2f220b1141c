// SPDX-License-Identifier: LGPL-3.0-or-later

package relayauth

import (
	"encoding/json"
	"net/http"

	"github.com/sage-x-project/sage/internal/reqsign"
	"github.com/sage-x-project/sage/pkg/relaytypes"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// rejectRelayed blocks any relay-auth request that arrived over the
// browser-to-local-server proxy rather than directly against the local
// server. Pairing a browser requires physical access to the machine the
// local server runs on.
func rejectRelayed(w http.ResponseWriter, r *http.Request) bool {
	if reqsign.IsRelayRequest(r.Header.Get(reqsign.RelayHeader)) {
		writeJSON(w, http.StatusForbidden, relaytypes.Failure[struct{}]("relay-auth endpoints are not available over a relayed connection"))
		return true
	}
	return false
}
