// SPDX-License-Identifier: LGPL-3.0-or-later

package relayauth

import (
	"encoding/base64"
	"net/http"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/pake"
	"github.com/sage-x-project/sage/internal/trustedkeys"
	"github.com/sage-x-project/sage/pkg/relaytypes"
)

// GenerateEnrollmentCode issues the single active one-time code a browser
// types in to begin pairing. A second call while one is still active
// returns the same code rather than minting a new one.
func (h *Handler) GenerateEnrollmentCode(w http.ResponseWriter, r *http.Request) {
	if rejectRelayed(w, r) {
		return
	}
	if err := h.runtime.EnforceRateLimit(bucketEnrollmentCode, generateCodeGlobalLimit, rateLimitWindow); err != nil {
		writeJSON(w, http.StatusTooManyRequests, relaytypes.Failure[relaytypes.GenerateEnrollmentCodeResponse]("too many requests"))
		return
	}

	code, err := pake.GenerateOneTimeCode()
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to generate enrollment code", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, relaytypes.Failure[relaytypes.GenerateEnrollmentCodeResponse]("internal error"))
		return
	}
	active, _ := h.runtime.GetOrSetEnrollmentCode(code)

	writeJSON(w, http.StatusOK, relaytypes.Success(relaytypes.GenerateEnrollmentCodeResponse{EnrollmentCode: active}))
}

// StartEnrollment runs the server side of the SPAKE2 exchange against the
// code the browser submitted, then consumes the active enrollment code only
// if it equals that submission. A mismatched or malformed submission never
// touches the real code, so it can't deny the legitimate browser's in-flight
// pairing attempt.
func (h *Handler) StartEnrollment(w http.ResponseWriter, r *http.Request) {
	if rejectRelayed(w, r) {
		return
	}
	if err := h.runtime.EnforceRateLimit(bucketSpake2Start, spake2StartGlobalLimit, rateLimitWindow); err != nil {
		writeJSON(w, http.StatusTooManyRequests, relaytypes.Failure[relaytypes.StartSpake2EnrollmentResponse]("too many requests"))
		return
	}

	var req relaytypes.StartSpake2EnrollmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, relaytypes.Failure[relaytypes.StartSpake2EnrollmentResponse]("invalid request body"))
		return
	}

	outcome, err := pake.StartServer(req.EnrollmentCode, req.ClientMessageB64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, relaytypes.Failure[relaytypes.StartSpake2EnrollmentResponse](err.Error()))
		return
	}

	// pake.StartServer already validated this normalizes cleanly.
	normalizedCode, _ := pake.NormalizeEnrollmentCode(req.EnrollmentCode)
	if err := h.runtime.ConsumeEnrollmentCodeIfMatch(normalizedCode); err != nil {
		writeJSON(w, http.StatusUnauthorized, relaytypes.Failure[relaytypes.StartSpake2EnrollmentResponse]("invalid enrollment code"))
		return
	}

	enrollmentID := h.runtime.StorePendingEnrollment(outcome.SharedKey, outcome.ServerMessageB64)

	writeJSON(w, http.StatusOK, relaytypes.Success(relaytypes.StartSpake2EnrollmentResponse{
		EnrollmentID:     enrollmentID,
		ServerMessageB64: outcome.ServerMessageB64,
	}))
}

// FinishEnrollment verifies the browser's key-confirmation proof, persists
// its enrolled keypair as a trusted client, and opens the first signing
// session for it. A failure to persist the client is logged but does not
// fail the request: the browser already holds a valid signing session and
// retrying pairing from scratch would be worse than one unsynced write.
func (h *Handler) FinishEnrollment(w http.ResponseWriter, r *http.Request) {
	if rejectRelayed(w, r) {
		return
	}

	var req relaytypes.FinishSpake2EnrollmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, relaytypes.Failure[relaytypes.FinishSpake2EnrollmentResponse]("invalid request body"))
		return
	}

	pending, err := h.runtime.TakePendingEnrollment(req.EnrollmentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, relaytypes.Failure[relaytypes.FinishSpake2EnrollmentResponse]("enrollment not found or expired"))
		return
	}

	browserPublicKey, err := trustedkeys.ParsePublicKeyBase64(req.PublicKeyB64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, relaytypes.Failure[relaytypes.FinishSpake2EnrollmentResponse]("invalid public key"))
		return
	}

	if err := pake.VerifyClientProof(pending.SharedKey, req.EnrollmentID, browserPublicKey, req.ClientProofB64); err != nil {
		writeJSON(w, http.StatusUnauthorized, relaytypes.Failure[relaytypes.FinishSpake2EnrollmentResponse]("invalid client proof"))
		return
	}

	client := trustedkeys.Client{
		ClientID:      req.ClientID,
		ClientName:    req.ClientName,
		ClientBrowser: req.ClientBrowser,
		ClientOS:      req.ClientOS,
		ClientDevice:  req.ClientDevice,
		PublicKeyB64:  req.PublicKeyB64,
	}
	if _, err := h.trustedKeys.Upsert(client); err != nil {
		logger.FromContext(r.Context()).Error("failed to persist enrolled client",
			logger.String("client_id", req.ClientID.String()),
			logger.Err(err),
		)
	}

	signingSessionID := h.signing.CreateSession(browserPublicKey)

	serverPublicKey := h.signing.ServerPublicKey()
	serverProof, err := pake.BuildServerProof(pending.SharedKey, req.EnrollmentID, browserPublicKey, serverPublicKey)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to build server proof", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, relaytypes.Failure[relaytypes.FinishSpake2EnrollmentResponse]("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, relaytypes.Success(relaytypes.FinishSpake2EnrollmentResponse{
		SigningSessionID:   signingSessionID,
		ServerPublicKeyB64: base64.StdEncoding.EncodeToString(serverPublicKey),
		ServerProofB64:     serverProof,
	}))
}
