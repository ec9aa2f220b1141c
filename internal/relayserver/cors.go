// SPDX-License-Identifier: LGPL-3.0-or-later

package relayserver

import "net/http"

// exposedSignatureHeaders lists the response-signing headers reqsign.SignResponse
// attaches, which a browser needs explicit permission to read across origins.
var exposedSignatureHeaders = "x-vk-resp-ts, x-vk-resp-nonce, x-vk-resp-signature"

// CORS mirrors the request's Origin, Access-Control-Request-Method and
// Access-Control-Request-Headers back as the allowed set, the way the
// rendezvous server's original CORS layer used AllowOrigin::mirror_request
// and friends. Every route here is reached with a bearer token or signed
// request rather than ambient cookies, but browser fetches to arbitrary
// relay hosts still need credentialed cross-origin access, hence
// allow_credentials alongside a mirrored (not wildcard) origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Add("Vary", "Origin")
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Expose-Headers", exposedSignatureHeaders)
		}

		if r.Method == http.MethodOptions {
			if method := r.Header.Get("Access-Control-Request-Method"); method != "" {
				header.Set("Access-Control-Allow-Methods", method)
			}
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				header.Set("Access-Control-Allow-Headers", reqHeaders)
				header.Add("Vary", "Access-Control-Request-Headers")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
