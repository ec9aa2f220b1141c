// SPDX-License-Identifier: LGPL-3.0-or-later

package relayserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sage-x-project/sage/internal/authsvc"
	"github.com/sage-x-project/sage/internal/hoststore"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/pkg/relaytypes"
)

// IssueAuthCode mints a one-time code a browser can redeem for a relay
// browser session against the host behind the named relay session. It
// requires the requester's host to currently have a live control channel
// — there is no point issuing a code for a host that cannot serve it.
func (h *Handler) IssueAuthCode(w http.ResponseWriter, r *http.Request) {
	rc, ok := authsvc.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := uuid.Parse(mux.Vars(r)["session_id"])
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid session id")
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx).With(logger.String("session_id", sessionID.String()))

	session, err := h.hosts.GetSessionForRequester(ctx, sessionID, rc.User.ID)
	if errors.Is(err, hoststore.ErrNotFound) {
		writeFailure(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Error("failed to load relay session", logger.Err(err))
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	if session.State == hoststore.SessionExpired {
		writeFailure(w, http.StatusGone, "session has expired")
		return
	}
	if time.Now().After(session.ExpiresAt) {
		if markErr := h.hosts.MarkSessionExpired(ctx, sessionID); markErr != nil {
			log.Error("failed to mark session expired", logger.Err(markErr))
		}
		writeFailure(w, http.StatusGone, "session has expired")
		return
	}

	if h.registry.Get(session.HostID) == nil {
		if markErr := h.hosts.MarkSessionExpired(ctx, sessionID); markErr != nil {
			log.Error("failed to mark session expired", logger.Err(markErr))
		}
		writeFailure(w, http.StatusGone, "host is not connected")
		return
	}

	if err := h.hosts.MarkSessionActive(ctx, sessionID); err != nil {
		log.Error("failed to mark session active", logger.Err(err))
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	browserSession, err := h.browserSessions.Create(ctx, session.HostID, rc.User.ID, rc.AuthSessionID)
	if err != nil {
		log.Error("failed to create browser session", logger.Err(err))
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	code, err := h.authCodes.Create(ctx, session.HostID, browserSession.ID.String())
	if err != nil {
		log.Error("failed to create auth code", logger.Err(err))
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, relaytypes.Success(relaytypes.RelaySessionAuthCodeResponse{AuthCode: code}))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, relaytypes.Failure[struct{}](message))
}
