// SPDX-License-Identifier: LGPL-3.0-or-later

package reqsign

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/internal/relaysign"
)

func newService(t *testing.T) (*relaysign.Service, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	_, serverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	browserPub, browserPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	svc := relaysign.New(serverPriv)
	return svc, browserPub, browserPriv
}

func signedRequest(t *testing.T, sessionID uuid.UUID, browserKey ed25519.PrivateKey, method, path string, body []byte, ts int64, nonce string) *http.Request {
	t.Helper()
	message := buildRequestMessage(ts, method, path, sessionID, nonce, body)
	sig := ed25519.Sign(browserKey, message)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(RelayHeader, "1")
	req.Header.Set(SigningSessionHeader, sessionID.String())
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(NonceHeader, nonce)
	req.Header.Set(RequestSignatureHeader, base64.StdEncoding.EncodeToString(sig))
	return req
}

func TestRequireSignatureAcceptsValidRequest(t *testing.T) {
	svc, browserPub, browserPriv := newService(t)
	sessionID := svc.CreateSession(browserPub)

	var gotCtx Context
	handler := RequireSignature(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtx, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := signedRequest(t, sessionID, browserPriv, http.MethodGet, "/relay/h/abc/s/xyz", nil, time.Now().Unix(), "nonce-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, sessionID, gotCtx.SigningSessionID)
}

func TestRequireSignatureRejectsBadSignature(t *testing.T) {
	svc, browserPub, _ := newService(t)
	sessionID := svc.CreateSession(browserPub)
	_, otherPriv, _ := ed25519.GenerateKey(nil)

	handler := RequireSignature(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := signedRequest(t, sessionID, otherPriv, http.MethodGet, "/relay/h/abc/s/xyz", nil, time.Now().Unix(), "nonce-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSignaturePassesThroughNonRelayedRequests(t *testing.T) {
	svc, _, _ := newService(t)
	ran := false
	handler := RequireSignature(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.True(t, ran)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSignResponseAddsHeaders(t *testing.T) {
	svc, browserPub, browserPriv := newService(t)
	sessionID := svc.CreateSession(browserPub)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	})
	handler := SignResponse(svc, nowStub)(inner)

	req := signedRequest(t, sessionID, browserPriv, http.MethodGet, "/relay/h/abc/s/xyz", nil, nowStub(), "nonce-2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(ResponseTimestampHeader))
	require.NotEmpty(t, rec.Header().Get(ResponseNonceHeader))
	require.NotEmpty(t, rec.Header().Get(ResponseSignatureHeader))
}

func TestExtractFromQueryStripsSignatureParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/relay/h/abc?foo=bar&"+SigningSessionHeader+"="+uuid.New().String()+
		"&"+TimestampHeader+"=123&"+NonceHeader+"=n&"+RequestSignatureHeader+"=sig", nil)

	input, err := Extract(req)
	require.NoError(t, err)
	require.Contains(t, input.PathAndQuery, "foo=bar")
	require.NotContains(t, input.PathAndQuery, SigningSessionHeader)
}

func nowStub() int64 { return 1700000000 }
