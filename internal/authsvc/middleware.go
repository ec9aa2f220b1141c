// SPDX-License-Identifier: LGPL-3.0-or-later

package authsvc

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

// FromContext returns the RequestContext attached by RequireSession.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// RequireSession extracts a bearer access token from the Authorization
// header, resolves it to a RequestContext via r, and attaches it to the
// request context for downstream handlers. Requests with a missing,
// malformed, or unresolvable token are rejected with 401 before next runs.
func RequireSession(r *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			token, ok := bearerToken(req)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			rc, err := r.FromAccessToken(req.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(req.Context(), ctxKey{}, rc)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func bearerToken(req *http.Request) (string, bool) {
	header := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
