// SPDX-License-Identifier: LGPL-3.0-or-later

package reqsign

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/relaysign"
)

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }

type ctxKey struct{}

// Context is what downstream handlers can recover about the verified
// signature on the current request.
type Context struct {
	SigningSessionID uuid.UUID
	RequestNonce     string
}

// FromContext returns the signature context attached by RequireSignature,
// if the request was a verified relay request.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}

// RequireSignature verifies a relayed request's Ed25519 signature against
// svc before passing it to next. Requests without x-vk-relayed: 1 pass
// through untouched — this middleware only guards the proxy path.
func RequireSignature(svc *relaysign.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsRelayRequest(r.Header.Get(RelayHeader)) {
				next.ServeHTTP(w, r)
				return
			}

			input, err := Extract(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			r.Body.Close()

			message := buildRequestMessage(input.Timestamp, r.Method, input.PathAndQuery, input.SigningSessionID, input.Nonce, body)
			if err := svc.VerifyMessage(input.SigningSessionID, input.Timestamp, input.Nonce, message, input.SignatureB64); err != nil {
				logger.FromContext(r.Context()).Warn("rejecting relay request with invalid signature",
					logger.String("signing_session_id", input.SigningSessionID.String()),
					logger.String("path", input.PathAndQuery),
					logger.Err(err),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			ctx := context.WithValue(r.Context(), ctxKey{}, Context{
				SigningSessionID: input.SigningSessionID,
				RequestNonce:     input.Nonce,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// recorder buffers a handler's response so SignResponse can compute its
// body hash before writing anything to the real ResponseWriter.
type recorder struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func (rec *recorder) Header() http.Header { return rec.header }

func (rec *recorder) Write(p []byte) (int, error) { return rec.body.Write(p) }

func (rec *recorder) WriteHeader(status int) { rec.statusCode = status }

// SignResponse counter-signs a relayed response's status/body/path with
// svc, attaching x-vk-resp-ts/nonce/signature. Like RequireSignature, it
// is a no-op for non-relayed requests.
func SignResponse(svc *relaysign.Service, nowUnix func() int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsRelayRequest(r.Header.Get(RelayHeader)) {
				next.ServeHTTP(w, r)
				return
			}

			input, err := Extract(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			rec := &recorder{header: make(http.Header), statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			responseTimestamp := nowUnix()
			// 32 lowercase hex chars, matching the wire format request_nonce uses.
			responseNonce := strings.ReplaceAll(uuid.New().String(), "-", "")
			bodyBytes := rec.body.Bytes()

			message := buildResponseMessage(responseTimestamp, rec.statusCode, input.PathAndQuery, input.SigningSessionID, input.Nonce, responseNonce, bodyBytes)
			signature, err := svc.SignMessage(input.SigningSessionID, message)
			if err != nil {
				logger.FromContext(r.Context()).Warn("failed to sign relay response",
					logger.String("signing_session_id", input.SigningSessionID.String()),
					logger.String("path", input.PathAndQuery),
					logger.Err(err),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			for key, values := range rec.header {
				for _, v := range values {
					w.Header().Add(key, v)
				}
			}
			w.Header().Set(ResponseTimestampHeader, itoa64(responseTimestamp))
			w.Header().Set(ResponseNonceHeader, responseNonce)
			w.Header().Set(ResponseSignatureHeader, signature)

			w.WriteHeader(rec.statusCode)
			_, _ = w.Write(bodyBytes)
		})
	}
}
