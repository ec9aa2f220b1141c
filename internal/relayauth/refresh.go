// SPDX-License-Identifier: LGPL-3.0-or-later

package relayauth

import (
	"net/http"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/pake"
	"github.com/sage-x-project/sage/internal/trustedkeys"
	"github.com/sage-x-project/sage/pkg/relaytypes"
)

// RefreshSigningSession lets a previously enrolled browser prove continued
// possession of its Ed25519 key and open a new signing session, without
// re-running SPAKE2. This is how a browser keeps relaying past the 60
// minute signing-session lifetime without re-pairing.
func (h *Handler) RefreshSigningSession(w http.ResponseWriter, r *http.Request) {
	if rejectRelayed(w, r) {
		return
	}
	if err := h.runtime.EnforceRateLimit(bucketSigningRefresh, signingRefreshGlobalLimit, rateLimitWindow); err != nil {
		writeJSON(w, http.StatusTooManyRequests, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("too many requests"))
		return
	}

	var req relaytypes.RefreshRelaySigningSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("invalid request body"))
		return
	}

	client, err := h.trustedKeys.Find(req.ClientID)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to look up enrolled client", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("internal error"))
		return
	}
	if client == nil {
		writeJSON(w, http.StatusNotFound, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("unknown client"))
		return
	}

	if err := pake.ValidateRefreshTimestamp(req.Timestamp); err != nil {
		writeJSON(w, http.StatusUnauthorized, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("timestamp outside allowed drift"))
		return
	}
	if err := h.runtime.ClaimRefreshNonce(req.Nonce); err != nil {
		writeJSON(w, http.StatusUnauthorized, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("replayed or invalid nonce"))
		return
	}

	publicKey, err := trustedkeys.ParsePublicKeyBase64(client.PublicKeyB64)
	if err != nil {
		logger.FromContext(r.Context()).Error("stored client has invalid public key", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("internal error"))
		return
	}

	message := pake.BuildRefreshMessage(req.Timestamp, req.Nonce, req.ClientID)
	if err := pake.VerifyRefreshSignature(publicKey, message, req.SignatureB64); err != nil {
		writeJSON(w, http.StatusUnauthorized, relaytypes.Failure[relaytypes.RefreshRelaySigningSessionResponse]("invalid signature"))
		return
	}

	signingSessionID := h.signing.CreateSession(publicKey)

	writeJSON(w, http.StatusOK, relaytypes.Success(relaytypes.RefreshRelaySigningSessionResponse{SigningSessionID: signingSessionID}))
}
