// SPDX-License-Identifier: LGPL-3.0-or-later

package relayauth

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/internal/pake"
	"github.com/sage-x-project/sage/internal/reqsign"
	"github.com/sage-x-project/sage/internal/relaysign"
	"github.com/sage-x-project/sage/internal/trustedkeys"
	"github.com/sage-x-project/sage/pkg/relaytypes"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	_, serverKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return New(pake.NewRuntime(), trustedkeys.New(t.TempDir()+"/clients.json"), relaysign.New(serverKey))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) relaytypes.APIResponse[T] {
	t.Helper()
	var out relaytypes.APIResponse[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGenerateEnrollmentCodeIsStableUntilConsumed(t *testing.T) {
	h := newTestHandler(t)

	rec1 := httptest.NewRecorder()
	h.GenerateEnrollmentCode(rec1, httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil))
	require.Equal(t, http.StatusOK, rec1.Code)
	resp1 := decodeBody[relaytypes.GenerateEnrollmentCodeResponse](t, rec1)

	rec2 := httptest.NewRecorder()
	h.GenerateEnrollmentCode(rec2, httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil))
	resp2 := decodeBody[relaytypes.GenerateEnrollmentCodeResponse](t, rec2)

	require.Equal(t, resp1.Data.EnrollmentCode, resp2.Data.EnrollmentCode)
}

func TestGenerateEnrollmentCodeRejectsRelayedRequests(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil)
	req.Header.Set(reqsign.RelayHeader, "1")

	rec := httptest.NewRecorder()
	h.GenerateEnrollmentCode(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStartEnrollmentRejectsMalformedClientMessage(t *testing.T) {
	h := newTestHandler(t)

	codeRec := httptest.NewRecorder()
	h.GenerateEnrollmentCode(codeRec, httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil))
	code := decodeBody[relaytypes.GenerateEnrollmentCodeResponse](t, codeRec).Data.EnrollmentCode

	body, err := json.Marshal(relaytypes.StartSpake2EnrollmentRequest{
		EnrollmentCode:   code,
		ClientMessageB64: "not-a-valid-point",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.StartEnrollment(rec, httptest.NewRequest(http.MethodPost, "/relay-auth/spake2/start", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartEnrollmentRejectsWithoutActiveCode(t *testing.T) {
	h := newTestHandler(t)

	_, clientMessageB64, err := pake.StartClient("ABCDEF")
	require.NoError(t, err)

	body, err := json.Marshal(relaytypes.StartSpake2EnrollmentRequest{
		EnrollmentCode:   "ABCDEF",
		ClientMessageB64: clientMessageB64,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.StartEnrollment(rec, httptest.NewRequest(http.MethodPost, "/relay-auth/spake2/start", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartEnrollmentRejectsMismatchedCodeWithoutConsumingActiveOne(t *testing.T) {
	h := newTestHandler(t)

	codeRec := httptest.NewRecorder()
	h.GenerateEnrollmentCode(codeRec, httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil))
	activeCode := decodeBody[relaytypes.GenerateEnrollmentCodeResponse](t, codeRec).Data.EnrollmentCode

	_, wrongClientMessageB64, err := pake.StartClient("ZZZZZZ")
	require.NoError(t, err)
	body, err := json.Marshal(relaytypes.StartSpake2EnrollmentRequest{
		EnrollmentCode:   "ZZZZZZ",
		ClientMessageB64: wrongClientMessageB64,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.StartEnrollment(rec, httptest.NewRequest(http.MethodPost, "/relay-auth/spake2/start", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The real code must still be usable after the mismatched attempt.
	_, clientMessageB64, err := pake.StartClient(activeCode)
	require.NoError(t, err)
	body, err = json.Marshal(relaytypes.StartSpake2EnrollmentRequest{
		EnrollmentCode:   activeCode,
		ClientMessageB64: clientMessageB64,
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.StartEnrollment(rec, httptest.NewRequest(http.MethodPost, "/relay-auth/spake2/start", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEnrollmentSucceedsEndToEnd(t *testing.T) {
	h := newTestHandler(t)

	codeRec := httptest.NewRecorder()
	h.GenerateEnrollmentCode(codeRec, httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil))
	activeCode := decodeBody[relaytypes.GenerateEnrollmentCodeResponse](t, codeRec).Data.EnrollmentCode

	clientHandshake, clientMessageB64, err := pake.StartClient(activeCode)
	require.NoError(t, err)

	startBody, err := json.Marshal(relaytypes.StartSpake2EnrollmentRequest{
		EnrollmentCode:   activeCode,
		ClientMessageB64: clientMessageB64,
	})
	require.NoError(t, err)

	startRec := httptest.NewRecorder()
	h.StartEnrollment(startRec, httptest.NewRequest(http.MethodPost, "/relay-auth/spake2/start", bytes.NewReader(startBody)))
	require.Equal(t, http.StatusOK, startRec.Code)
	startResp := decodeBody[relaytypes.StartSpake2EnrollmentResponse](t, startRec)

	sharedKey, err := clientHandshake.Finish(clientMessageB64, startResp.Data.ServerMessageB64)
	require.NoError(t, err)

	browserPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clientProofB64, err := pake.BuildClientProof(sharedKey, startResp.Data.EnrollmentID, browserPub)
	require.NoError(t, err)

	clientID := uuid.New()
	finishBody, err := json.Marshal(relaytypes.FinishSpake2EnrollmentRequest{
		EnrollmentID:   startResp.Data.EnrollmentID,
		ClientID:       clientID,
		ClientName:     "test-browser",
		PublicKeyB64:   base64.StdEncoding.EncodeToString(browserPub),
		ClientProofB64: clientProofB64,
	})
	require.NoError(t, err)

	finishRec := httptest.NewRecorder()
	h.FinishEnrollment(finishRec, httptest.NewRequest(http.MethodPost, "/relay-auth/spake2/finish", bytes.NewReader(finishBody)))
	require.Equal(t, http.StatusOK, finishRec.Code)
	finishResp := decodeBody[relaytypes.FinishSpake2EnrollmentResponse](t, finishRec)
	require.NotEmpty(t, finishResp.Data.ServerProofB64)

	listRec := httptest.NewRecorder()
	h.ListClients(listRec, httptest.NewRequest(http.MethodGet, "/relay-auth/clients", nil))
	listResp := decodeBody[relaytypes.ListRelayPairedClientsResponse](t, listRec)
	require.Len(t, listResp.Data.Clients, 1)
	require.Equal(t, clientID, listResp.Data.Clients[0].ClientID)
}

func TestFinishEnrollmentRejectsUnknownEnrollmentID(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(relaytypes.FinishSpake2EnrollmentRequest{EnrollmentID: uuid.New()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.FinishEnrollment(rec, httptest.NewRequest(http.MethodPost, "/relay-auth/spake2/finish", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedTrustedClient(t *testing.T, h *Handler) (uuid.UUID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clientID := uuid.New()
	_, err = h.trustedKeys.Upsert(trustedkeys.Client{
		ClientID:     clientID,
		ClientName:   "seeded-browser",
		PublicKeyB64: base64.StdEncoding.EncodeToString(pub),
	})
	require.NoError(t, err)
	return clientID, priv
}

func TestRefreshSigningSessionAcceptsValidProof(t *testing.T) {
	h := newTestHandler(t)
	clientID, priv := seedTrustedClient(t, h)

	timestamp := time.Now().Unix()
	nonce := uuid.New().String()
	message := pake.BuildRefreshMessage(timestamp, nonce, clientID)
	signature := ed25519.Sign(priv, message)

	body, err := json.Marshal(relaytypes.RefreshRelaySigningSessionRequest{
		ClientID:     clientID,
		Timestamp:    timestamp,
		Nonce:        nonce,
		SignatureB64: base64.StdEncoding.EncodeToString(signature),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.RefreshSigningSession(rec, httptest.NewRequest(http.MethodPost, "/relay-auth/signing-session/refresh", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshSigningSessionRejectsReplayedNonce(t *testing.T) {
	h := newTestHandler(t)
	clientID, priv := seedTrustedClient(t, h)

	timestamp := time.Now().Unix()
	nonce := uuid.New().String()
	message := pake.BuildRefreshMessage(timestamp, nonce, clientID)
	signature := ed25519.Sign(priv, message)

	body, err := json.Marshal(relaytypes.RefreshRelaySigningSessionRequest{
		ClientID:     clientID,
		Timestamp:    timestamp,
		Nonce:        nonce,
		SignatureB64: base64.StdEncoding.EncodeToString(signature),
	})
	require.NoError(t, err)

	rec1 := httptest.NewRecorder()
	h.RefreshSigningSession(rec1, httptest.NewRequest(http.MethodPost, "/relay-auth/signing-session/refresh", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	h.RefreshSigningSession(rec2, httptest.NewRequest(http.MethodPost, "/relay-auth/signing-session/refresh", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestRefreshSigningSessionRejectsUnknownClient(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(relaytypes.RefreshRelaySigningSessionRequest{ClientID: uuid.New(), Timestamp: 1700000000, Nonce: "n"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.RefreshSigningSession(rec, httptest.NewRequest(http.MethodPost, "/relay-auth/signing-session/refresh", bytes.NewReader(body)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndRemoveClients(t *testing.T) {
	h := newTestHandler(t)
	clientID, _ := seedTrustedClient(t, h)

	listRec := httptest.NewRecorder()
	h.ListClients(listRec, httptest.NewRequest(http.MethodGet, "/relay-auth/clients", nil))
	require.Equal(t, http.StatusOK, listRec.Code)
	listResp := decodeBody[relaytypes.ListRelayPairedClientsResponse](t, listRec)
	require.Len(t, listResp.Data.Clients, 1)
	require.Equal(t, clientID, listResp.Data.Clients[0].ClientID)

	removeReq := httptest.NewRequest(http.MethodDelete, "/relay-auth/clients/"+clientID.String(), nil)
	removeReq = mux.SetURLVars(removeReq, map[string]string{"id": clientID.String()})
	removeRec := httptest.NewRecorder()
	h.RemoveClient(removeRec, removeReq)
	require.Equal(t, http.StatusOK, removeRec.Code)
	removeResp := decodeBody[relaytypes.RemoveRelayPairedClientResponse](t, removeRec)
	require.True(t, removeResp.Data.Removed)
}
